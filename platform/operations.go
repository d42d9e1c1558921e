package platform

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jcmrest/jcmrest/bridge"
	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/directory"
	"github.com/jcmrest/jcmrest/mind"
)

// RunCommand executes cmd on the named agent and records it in the agent
// log as "Command <cmd>: <bindings>". A failed command still returns its
// result; errors are reserved for parse errors, timeouts and cancellation.
func (p *Platform) RunCommand(ctx context.Context, name, cmd string) (*bridge.Result, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := p.sink.Ensure(ctx, name, a); err != nil {
		return nil, err
	}

	res, err := p.bridge.Execute(ctx, a, cmd)
	if err != nil {
		p.logger.DebugWithContext(ctx, "Command not executed", map[string]interface{}{
			"agent":   name,
			"command": cmd,
			"error":   err.Error(),
		})
		return nil, err
	}

	line := "Command " + commandText(cmd) + ": " + res.Unifier.String()
	if err := p.sink.Append(ctx, name, line); err != nil {
		p.logger.WarnWithContext(ctx, "Failed to log command", map[string]interface{}{
			"agent": name,
			"error": err.Error(),
		})
	}
	return res, nil
}

// commandText is the command as compiled: trimmed, one trailing dot removed.
func commandText(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	return strings.TrimSuffix(cmd, ".")
}

// SendMessage puts msg into the receiver's mailbox. A missing id is generated.
func (p *Platform) SendMessage(ctx context.Context, msg mind.Message) error {
	if msg.Receiver == "" {
		return core.NewFrameworkError("SendMessage", "message", core.ErrInvalidRequest)
	}
	a, err := p.Lookup(msg.Receiver)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	switch msg.Performative {
	case mind.PerformativeTell, mind.PerformativeUntell, mind.PerformativeAchieve:
	default:
		return &core.FrameworkError{
			Op:      "SendMessage",
			Kind:    "message",
			ID:      msg.Receiver,
			Message: "unsupported performative " + msg.Performative,
			Err:     core.ErrInvalidRequest,
		}
	}
	if err := a.Deliver(msg); err != nil {
		return core.NewAgentError("SendMessage", msg.Receiver, err)
	}

	p.logger.DebugWithContext(ctx, "Message delivered", map[string]interface{}{
		"id":           msg.ID,
		"sender":       msg.Sender,
		"receiver":     msg.Receiver,
		"performative": msg.Performative,
	})
	return nil
}

// Send implements mind.Environment for .send.
func (p *Platform) Send(ctx context.Context, msg mind.Message) error {
	return p.SendMessage(ctx, msg)
}

// RegisterService implements mind.Environment and the directory routes.
func (p *Platform) RegisterService(ctx context.Context, agent, service, typ string) error {
	return p.directory.Register(ctx, agent, service, typ)
}

// RemoveService implements mind.Environment for .df_deregister.
func (p *Platform) RemoveService(ctx context.Context, agent, service string) error {
	return p.directory.RemoveService(ctx, agent, service)
}

// Services lists the services of agent.
func (p *Platform) Services(ctx context.Context, agent string) ([]directory.Service, error) {
	return p.directory.Services(ctx, agent)
}

// AllServices maps every agent to its service names.
func (p *Platform) AllServices(ctx context.Context) (map[string][]string, error) {
	return p.directory.All(ctx)
}

// LoadPlans parses text and adds the plans to the agent. It returns the
// labels of the added plans.
func (p *Platform) LoadPlans(ctx context.Context, name, text string) ([]string, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	plans, err := mind.ParsePlans(text)
	if err != nil {
		return nil, core.NewAgentError("LoadPlans", name, err)
	}
	labels := a.AddPlans(plans)
	p.logger.InfoWithContext(ctx, "Plans loaded", map[string]interface{}{
		"agent":  name,
		"labels": labels,
	})
	return labels, nil
}

// Plans renders the agent's plans; see mind.Agent.Plans for label.
func (p *Platform) Plans(name, label string) (string, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return "", err
	}
	return a.Plans(label), nil
}

// Status reports the reasoning state of the agent.
func (p *Platform) Status(name string) (mind.Status, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return mind.Status{}, err
	}
	return a.Status(), nil
}

// Beliefs lists the belief base of the agent.
func (p *Platform) Beliefs(name string) ([]string, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Beliefs(), nil
}

// Suggestions lists completions for the command prompt of the agent.
func (p *Platform) Suggestions(name string) (map[string]string, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Suggestions(), nil
}

// Details is the full inspection view of an agent.
type Details struct {
	Agent    string              `json:"agent"`
	Beliefs  []string            `json:"beliefs"`
	Plans    string              `json:"plans"`
	Status   mind.Status         `json:"status"`
	Services []directory.Service `json:"services"`
}

// Details gathers beliefs, plans, intentions and services of the agent.
func (p *Platform) Details(ctx context.Context, name string) (*Details, error) {
	a, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	svcs, err := p.directory.Services(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Details{
		Agent:    name,
		Beliefs:  a.Beliefs(),
		Plans:    a.Plans("all"),
		Status:   a.Status(),
		Services: svcs,
	}, nil
}

// ReadLog returns the log of the agent. Reading attaches the log to a live
// agent that has none yet.
func (p *Platform) ReadLog(ctx context.Context, name string) (string, error) {
	if a, err := p.Lookup(name); err == nil {
		if err := p.sink.Ensure(ctx, name, a); err != nil {
			return "", err
		}
	}
	text, ok, err := p.sink.Read(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", core.NewAgentError("ReadLog", name, core.ErrAgentNotFound)
	}
	return text, nil
}

// ClearLog empties the log of the agent.
func (p *Platform) ClearLog(ctx context.Context, name string) error {
	if _, err := p.Lookup(name); err != nil {
		return err
	}
	return p.sink.Clear(ctx, name)
}

// AppendLog writes a line to the agent log.
func (p *Platform) AppendLog(ctx context.Context, name, message string) error {
	if _, err := p.Lookup(name); err != nil {
		return err
	}
	return p.sink.Append(ctx, name, message)
}
