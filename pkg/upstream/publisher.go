package upstream

import (
	"github.com/downfa11-org/bufferserver/util"
)

// WindowPublisher appends generated window boundaries to an upstream.
type WindowPublisher struct {
	m        *Manager
	upstream string
}

func (m *Manager) WindowPublisher(upstream string) *WindowPublisher {
	return &WindowPublisher{m: m, upstream: upstream}
}

func (w *WindowPublisher) ResetWindow(generation uint32, width int32) {
	w.publish(util.EncodeResetWindow(generation, width))
}

func (w *WindowPublisher) BeginWindow(window uint64) {
	w.publish(util.EncodeBeginWindow(window))
}

func (w *WindowPublisher) EndWindow(window uint64) {
	w.publish(util.EncodeEndWindow(window))
}

func (w *WindowPublisher) publish(raw []byte) {
	if err := w.m.Publish(w.upstream, raw); err != nil {
		util.Error("Failed to publish window boundary to '%s': %v", w.upstream, err)
	}
}
