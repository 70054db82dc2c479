//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework AVFoundation -framework Foundation

int checkMicrophonePermission(void);
void requestMicrophonePermission(int requestCode);
*/
import "C"

import "sync"

var (
	respondMu sync.Mutex
	respondFn ResultFunc
)

//export soundstreamMicrophoneResult
func soundstreamMicrophoneResult(requestCode C.int, granted C.int) {
	respondMu.Lock()
	fn := respondFn
	respondMu.Unlock()

	if fn == nil {
		return
	}
	result := GrantDenied
	if granted != 0 {
		result = GrantGranted
	}
	fn(int(requestCode), []int{result})
}

// system asks AVFoundation for microphone access.
type system struct{}

// NewSystem returns the platform authorizer.
func NewSystem() Authorizer {
	return system{}
}

// Status returns the current microphone permission status
func (system) Status() Status {
	return Status(C.checkMicrophonePermission())
}

// Request triggers the system microphone permission dialog. The completion
// handler runs on an AVFoundation queue.
func (system) Request(requestCode int, respond ResultFunc) error {
	respondMu.Lock()
	respondFn = respond
	respondMu.Unlock()

	C.requestMicrophonePermission(C.int(requestCode))
	return nil
}
