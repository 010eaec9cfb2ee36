package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
)

var _ service.Navigator = (*Navigator)(nil)

// Navigator is the terminal's view router. It prints each route change
// and signals when a job's results are ready.
type Navigator struct {
	writer  io.Writer
	results chan string
	current model.Route
	mu      sync.Mutex
}

// NewNavigator creates a Navigator that reports route changes on writer.
// A nil writer keeps navigation silent.
func NewNavigator(writer io.Writer) *Navigator {
	if writer == nil {
		writer = io.Discard
	}
	return &Navigator{
		writer:  writer,
		results: make(chan string, 1),
	}
}

// Navigate implements service.Navigator.
func (n *Navigator) Navigate(route model.Route) {
	n.mu.Lock()
	n.current = route
	n.mu.Unlock()

	slog.Debug("Navigating", "path", route.Path())
	if _, err := fmt.Fprintln(n.writer, SubtleStyle.Render("→ "+route.Path())); err != nil {
		slog.Warn("Failed to write navigation", "error", err)
	}

	if route.Kind == model.RouteResults {
		select {
		case n.results <- route.JobID:
		default:
		}
	}
}

// Current returns the most recent route.
func (n *Navigator) Current() model.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Results delivers the job id each time the results route is entered.
func (n *Navigator) Results() <-chan string {
	return n.results
}
