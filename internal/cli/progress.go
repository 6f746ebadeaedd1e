package cli

import (
	"fmt"
	"os"

	"github.com/chatvault/chatvault/internal/bus"
	"github.com/chatvault/chatvault/internal/report"
)

// watchProgress prints per-chat progress lines to stderr as comparison
// and merge events arrive on the bus. Returns a function that stops
// watching; safe to call after the operation finished.
func watchProgress(b *bus.Bus, label string, kind string) func() {
	sub := b.Subscribe(kind, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub.C {
			p, ok := evt.Payload.(report.Progress)
			if !ok {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s %d/%d chats (%s)\n", label, p.ChatsDone, p.ChatsTotal, p.CurrentChat)
		}
	}()
	return func() {
		sub.Cancel()
		<-done
	}
}
