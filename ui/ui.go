// Package ui defines the contract Node uses to surface messages and peer
// presence to whatever front end embeds the mesh, and a logging-only
// reference implementation.
package ui

import (
	"time"

	"github.com/chatmesh/node/internal/logger"
)

// UI receives delivered chat content and peer presence changes. No
// terminal rendering is implemented here; callers wanting an interactive
// front end provide their own implementation.
type UI interface {
	OnMessage(channelID, senderID, content string, private bool, ts time.Time)
	OnPeerUp(nodeID, addr string)
	OnPeerDown(nodeID string)
}

// LoggingUI logs every callback at info level. It exercises the contract
// end to end without rendering anything.
type LoggingUI struct {
	log logger.Logger
}

func NewLoggingUI() *LoggingUI {
	return &LoggingUI{log: logger.NewDefaultLogger()}
}

func (u *LoggingUI) OnMessage(channelID, senderID, content string, private bool, ts time.Time) {
	u.log.Info("message received",
		logger.String("channel_id", channelID),
		logger.String("sender_id", senderID),
		logger.String("content", content),
		logger.Bool("private", private),
		logger.String("timestamp", ts.Format(time.RFC3339)),
	)
}

func (u *LoggingUI) OnPeerUp(nodeID, addr string) {
	u.log.Info("peer up", logger.String("node_id", nodeID), logger.String("addr", addr))
}

func (u *LoggingUI) OnPeerDown(nodeID string) {
	u.log.Info("peer down", logger.String("node_id", nodeID))
}

var _ UI = (*LoggingUI)(nil)
