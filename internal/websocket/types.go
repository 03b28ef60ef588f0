package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types understood by the live reload client.
const (
	TypeFullReload   = "full_reload"
	TypeCSSUpdate    = "css_update"
	TypeBuildError   = "build_error"
	TypeBuildSuccess = "build_success"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FullReload asks every page to reload.
func FullReload() UpdateMessage {
	return UpdateMessage{Type: TypeFullReload, Timestamp: time.Now()}
}

// CSSUpdate asks pages to refetch the stylesheet at href without reloading.
func CSSUpdate(href string) UpdateMessage {
	return UpdateMessage{Type: TypeCSSUpdate, Target: href, Timestamp: time.Now()}
}

// BuildError shows the rendered diagnostics of task in the error overlay.
func BuildError(task, html string) UpdateMessage {
	return UpdateMessage{Type: TypeBuildError, Target: task, Content: html, Timestamp: time.Now()}
}

// BuildSuccess clears the overlay for task.
func BuildSuccess(task string) UpdateMessage {
	return UpdateMessage{Type: TypeBuildSuccess, Target: task, Timestamp: time.Now()}
}

// Client represents a WebSocket client connection
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// OriginValidator decides which page origins may open a live reload socket.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}
