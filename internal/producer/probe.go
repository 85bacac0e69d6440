package producer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"statusmon/internal/models"
)

// Probe determines whether a named OS service is running.
type Probe interface {
	Probe(ctx context.Context, service string) (models.Status, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, service string) (models.Status, error)

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context, service string) (models.Status, error) {
	return f(ctx, service)
}

// ProbeError reports a probe that could not run at all, as opposed to one
// that ran and found the service down.
type ProbeError struct {
	Service string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Service, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SystemdProbe asks systemd whether a unit is active.
type SystemdProbe struct {
	// Command defaults to "systemctl".
	Command string
}

// Probe runs `systemctl is-active --quiet <service>`. Exit status 0 is UP and
// any other exit status is DOWN.
func (p SystemdProbe) Probe(ctx context.Context, service string) (models.Status, error) {
	command := p.Command
	if command == "" {
		command = "systemctl"
	}
	err := exec.CommandContext(ctx, command, "is-active", "--quiet", service).Run()
	if err == nil {
		return models.StatusUp, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return models.StatusDown, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return models.StatusDown, &ProbeError{Service: service, Err: err}
}
