package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio is process-global. Device queries and capture streams hold a
// reference and the library is terminated when the last one is released.
var (
	paMu   sync.Mutex
	paRefs int
)

func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	paRefs++
	return nil
}

func release() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}
