package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

// profileCmd groups profile file commands
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "청산 프로파일 YAML 관리",
	Long: `프로파일 YAML 파일을 검증/반영/추출합니다.

custom_rules의 threshold, exitPercent는 percent 단위 (7 = 7%),
나머지 트리거 값은 fraction 단위 (-0.05 = -5%)입니다.

Example:
  go run ./cmd/exitctl profile validate profiles.yaml
  go run ./cmd/exitctl profile import profiles.yaml
  go run ./cmd/exitctl profile export > profiles.yaml`,
}

var profileValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "YAML 검증 (DB 불필요)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileValidate,
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "YAML의 프로파일을 검증 후 저장 (캐시 무효화 broadcast)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileImport,
}

var profileExportCmd = &cobra.Command{
	Use:   "export",
	Short: "저장된 프로파일을 YAML로 출력",
	Args:  cobra.NoArgs,
	RunE:  runProfileExport,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileValidateCmd, profileImportCmd, profileExportCmd)
}

func readProfiles(path string) ([]*contracts.ExitProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	profiles, err := exit.LoadProfilesYAML(data)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%s: no profiles", path)
	}
	return profiles, nil
}

func runProfileValidate(cmd *cobra.Command, args []string) error {
	profiles, err := readProfiles(args[0])
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}

	printHeader("Profile Validation")
	for _, p := range profiles {
		hash, err := exit.ProfileHash(p)
		if err != nil {
			return err
		}
		printRow(p.ProfileID, fmt.Sprintf("%s (active=%t, hash=%s)", p.Name, p.IsActive, hash[:12]))
	}
	printFooter()
	fmt.Printf("✅ %d profile(s) valid\n", len(profiles))
	return nil
}

func runProfileImport(cmd *cobra.Command, args []string) error {
	profiles, err := readProfiles(args[0])
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}

	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, p := range profiles {
		p.CreatedBy = operatorName()
		if err := c.admin.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("❌ save %s: %w", p.ProfileID, err)
		}
		fmt.Printf("✅ %s saved\n", p.ProfileID)
	}
	return nil
}

func runProfileExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	profiles, err := c.st.ListProfiles(ctx)
	if err != nil {
		return err
	}
	out, err := exit.MarshalProfilesYAML(profiles)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
