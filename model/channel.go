package model

import "time"

// ChannelType distinguishes what a channel carries.
type ChannelType string

const (
	ChannelText         ChannelType = "text"
	ChannelVoice        ChannelType = "voice"
	ChannelVideo        ChannelType = "video"
	ChannelAnnouncement ChannelType = "announcement"
)

// AcceptsMessages reports whether text messages may be posted to a
// channel of this type.
func (t ChannelType) AcceptsMessages() bool {
	return t == ChannelText || t == ChannelAnnouncement
}

// Channel belongs to a server. Position is an advisory ordering key
// within (server, type). SlowModeSeconds of 0 disables slow mode.
type Channel struct {
	ID              string      `db:"id" json:"id"`
	ServerID        string      `db:"server_id" json:"server_id"`
	Name            string      `db:"name" json:"name"`
	Type            ChannelType `db:"type" json:"type"`
	Position        int         `db:"position" json:"position"`
	SlowModeSeconds int         `db:"slow_mode_seconds" json:"slow_mode_seconds"`
	Private         bool        `db:"private" json:"private"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}
