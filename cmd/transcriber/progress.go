package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
)

// progress renders chunk production and transcription of the current file
// as progress bars on stderr.
type progress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	file string
	kind jobs.EventType
}

// attachProgress subscribes a renderer to events and returns its detach
// function.
func attachProgress(events *jobs.EventBus) func() {
	p := &progress{}
	unsubscribe := events.Subscribe(p.handle)
	return func() {
		unsubscribe()
		p.finish()
	}
}

func (p *progress) handle(e jobs.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case jobs.EventTypeChunkProduced:
		p.ensure(e, "découpage")
		_ = p.bar.Add(1)
	case jobs.EventTypeChunkTranscribed, jobs.EventTypeChunkSkipped:
		p.ensure(e, "transcription")
		_ = p.bar.Add(1)
	case jobs.EventTypeFilePlanned:
		p.finishLocked()
		p.file = e.File
	case jobs.EventTypeStatus:
		if e.Status == domain.RunStatusDone {
			p.finishLocked()
		}
	case jobs.EventTypeError:
		p.finishLocked()
	}
}

// ensure starts a bar when the event begins a new phase. Transcription
// bars are indeterminate: the driver does not announce a total.
func (p *progress) ensure(e jobs.Event, label string) {
	kind := e.Type
	if kind == jobs.EventTypeChunkSkipped {
		kind = jobs.EventTypeChunkTranscribed
	}
	if p.bar != nil && p.kind == kind {
		return
	}
	p.finishLocked()

	file := p.file
	if file == "" {
		file = e.File
	}
	total := -1
	if kind == jobs.EventTypeChunkProduced && e.Total > 0 {
		total = e.Total
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", label, file)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	p.kind = kind
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progress) finishLocked() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
	p.kind = ""
}
