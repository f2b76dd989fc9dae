// Package tts speaks text through espeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
murmur_init(const char *voice)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	if (voice && voice[0])
	{ return espeak_SetVoiceByName(voice) == EE_OK ? 0 : -2; }

	return 0;
}

static int
murmur_say(const char *text)
{
	if (!text)
	{ return -1; }

	if (espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL) != EE_OK)
	{ return -2; }

	return espeak_Synchronize() == EE_OK ? 0 : -3;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"murmur/pkg/voice"
)

// Espeak is a voice.Synthesizer. Speech is synchronous and serialized.
type Espeak struct {
	mu     sync.Mutex
	closed bool
}

// NewEspeak initializes the engine with voice, or its default voice when empty.
func NewEspeak(voiceName string) (*Espeak, error) {
	cvoice := C.CString(voiceName)
	defer C.free(unsafe.Pointer(cvoice))

	if rc := C.murmur_init(cvoice); rc != 0 {
		return nil, fmt.Errorf("espeak init (voice %q): code %d", voiceName, int(rc))
	}
	return &Espeak{}, nil
}

func (e *Espeak) Speak(text string) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return &voice.SynthesisError{Text: text, Err: fmt.Errorf("espeak closed")}
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.murmur_say(ctext); rc != 0 {
		return &voice.SynthesisError{Text: text, Err: fmt.Errorf("espeak synth failed: code %d", int(rc))}
	}
	return nil
}

func (e *Espeak) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	C.espeak_Terminate()
	return nil
}
