package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"veche/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Connect(ctx context.Context, userID string) (string, <-chan models.ServerEvent, error)
	Disconnect(ctx context.Context, sessionID string) error
	Dispatch(ctx context.Context, sessionID string, ev models.ClientEvent) error
}

type Connection struct {
	ws         wsConnection
	hub        eventHub
	userID     string
	sessionID  string
	fromClient chan models.ClientEvent
	fromServer <-chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	ctx context.Context,
	hub eventHub,
	ws wsConnection,
	userID string,
) (*Connection, error) {
	sessionID, outbox, err := hub.Connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		sessionID:  sessionID,
		fromClient: make(chan models.ClientEvent),
		fromServer: outbox,
		errorCh:    make(chan error, 2),
	}, nil
}

func (c *Connection) SessionID() string {
	return c.sessionID
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		if err := c.hub.Disconnect(context.WithoutCancel(ctx), c.sessionID); err != nil && !errors.Is(err, ErrHubClosed) {
			slog.Error("disconnect failed", "session_id", c.sessionID, "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// pumpMessages reads frames until the socket fails. Frames that are not
// valid JSON, including truncated and empty ones, are logged and skipped.
func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			if isDecodeError(err) {
				slog.Warn("malformed frame", "session_id", c.sessionID, "user_id", c.userID, "error", err)
				continue
			}
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.hub.Dispatch(ctx, c.sessionID, ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				// Session closed by the hub.
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
