// Package dialog implements the Dialog Coordinator: it lets a
// running tool suspend pending an out-of-band user answer, publishing a
// UserDialogRequestEvent and blocking until either a matching
// UserDialogResponseEventDto arrives over the WebSocket adapter or the
// enclosing plan is cancelled.
package dialog

import (
	"context"
	"sync"

	"github.com/jervis-ai/jervis/internal/hooks"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// Answer is the out-of-band reply delivered to a suspended dialog.
type Answer struct {
	Text     string
	Accepted bool
}

// pending tracks one suspended dialog awaiting resolution.
type pending struct {
	correlationID string
	ch            chan Answer
	once          sync.Once
}

func (p *pending) resolve(a Answer) {
	p.once.Do(func() { p.ch <- a })
}

// Coordinator suspends and resumes tool execution across out-of-band user
// input. It is safe for concurrent use by many in-flight plan steps.
type Coordinator struct {
	bus hooks.Bus

	mu            sync.Mutex
	byID          map[ids.DialogID]*pending
	byCorrelation map[string][]ids.DialogID
}

// NewCoordinator constructs a Coordinator that publishes dialog lifecycle
// events on bus.
func NewCoordinator(bus hooks.Bus) *Coordinator {
	return &Coordinator{
		bus:           bus,
		byID:          make(map[ids.DialogID]*pending),
		byCorrelation: make(map[string][]ids.DialogID),
	}
}

// RequestDialog registers a new suspended dialog and publishes a
// UserDialogRequestEvent announcing it, returning the dialogId the caller
// passes to Await.
func (c *Coordinator) RequestDialog(ctx context.Context, correlationID, question string) (ids.DialogID, error) {
	dialogID := ids.NewDialogID()
	p := &pending{correlationID: correlationID, ch: make(chan Answer, 1)}

	c.mu.Lock()
	c.byID[dialogID] = p
	c.byCorrelation[correlationID] = append(c.byCorrelation[correlationID], dialogID)
	c.mu.Unlock()

	if c.bus != nil {
		if err := c.bus.Publish(ctx, hooks.UserDialogRequestEvent{
			EventID:       hooks.NewEventID(),
			DialogID:      dialogID.Hex(),
			CorrelationID: correlationID,
			Question:      question,
		}); err != nil {
			return ids.DialogID{}, err
		}
	}
	return dialogID, nil
}

// Await blocks until dialogID is resolved by Resolve, cancelled by Cancel,
// or ctx is done, whichever comes first. A done ctx surfaces as
// jerrors.Cancelled so callers can turn it into ToolResult.failure
// ("cancelled"); Cancel instead wakes Await with an empty, unaccepted
// Answer and a nil error.
func (c *Coordinator) Await(ctx context.Context, dialogID ids.DialogID) (Answer, error) {
	c.mu.Lock()
	p, ok := c.byID[dialogID]
	c.mu.Unlock()
	if !ok {
		return Answer{}, jerrors.Newf(jerrors.ValidationFailure, "dialog: unknown dialog id %s", dialogID.Hex())
	}

	defer c.forget(dialogID)

	select {
	case a := <-p.ch:
		return a, nil
	case <-ctx.Done():
		return Answer{}, jerrors.Wrap(jerrors.Cancelled, "dialog: await cancelled", ctx.Err())
	}
}

// Resolve delivers answer to the dialog identified by dialogID and
// publishes a UserDialogResponseEvent, in response to an inbound
// UserDialogResponseEventDto.
func (c *Coordinator) Resolve(ctx context.Context, dialogID ids.DialogID, answer string, accepted bool) error {
	c.mu.Lock()
	p, ok := c.byID[dialogID]
	c.mu.Unlock()
	if !ok {
		return jerrors.Newf(jerrors.ValidationFailure, "dialog: unknown dialog id %s", dialogID.Hex())
	}

	p.resolve(Answer{Text: answer, Accepted: accepted})
	if c.bus == nil {
		return nil
	}
	return c.bus.Publish(ctx, hooks.UserDialogResponseEvent{
		EventID:       hooks.NewEventID(),
		DialogID:      dialogID.Hex(),
		CorrelationID: p.correlationID,
		Answer:        answer,
		Accepted:      accepted,
	})
}

// Cancel completes dialogID with an empty, unaccepted answer, waking any
// Await call without a user answer ever having arrived. Used when a
// UserDialogCloseEventDto is received for a single dialog.
func (c *Coordinator) Cancel(dialogID ids.DialogID) {
	c.mu.Lock()
	p, ok := c.byID[dialogID]
	c.mu.Unlock()
	if ok {
		p.resolve(Answer{})
	}
}

// CancelByCorrelation completes every dialog registered under
// correlationID, used when the enclosing plan is cancelled so no tool is
// left blocked in Await forever.
func (c *Coordinator) CancelByCorrelation(correlationID string) {
	c.mu.Lock()
	dialogIDs := c.byCorrelation[correlationID]
	c.mu.Unlock()
	for _, id := range dialogIDs {
		c.Cancel(id)
	}
}

func (c *Coordinator) forget(dialogID ids.DialogID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[dialogID]
	if !ok {
		return
	}
	delete(c.byID, dialogID)
	siblings := c.byCorrelation[p.correlationID]
	for i, id := range siblings {
		if id == dialogID {
			c.byCorrelation[p.correlationID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(c.byCorrelation[p.correlationID]) == 0 {
		delete(c.byCorrelation, p.correlationID)
	}
}
