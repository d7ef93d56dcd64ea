package memstore

import "errors"

var (
	errSaveInjected    = errors.New("memstore: injected save failure")
	errControlInjected = errors.New("memstore: injected control read failure")
)
