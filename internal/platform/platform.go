package platform

import (
	"errors"
	"fmt"
)

// Permission is a set of capabilities a member holds in a guild or channel.
type Permission uint32

const (
	PermViewChannel Permission = 1 << iota
	PermSendMessages
	PermEmbedLinks
	PermAttachFiles
	PermReadHistory
	PermManageMessages
	PermManageRoles
	PermManageGuild
	PermKickMembers
	PermModerateMembers
	PermAdministrator
)

const PermAll = PermViewChannel | PermSendMessages | PermEmbedLinks | PermAttachFiles | PermReadHistory |
	PermManageMessages | PermManageRoles | PermManageGuild | PermKickMembers | PermModerateMembers | PermAdministrator

func (p Permission) Has(want Permission) bool {
	return p&want == want
}

type Member struct {
	GuildID   string
	UserID    string
	Username  string
	Bot       bool
	RoleIDs   []string
	AvatarURL string
}

type Role struct {
	ID       string
	Name     string
	Managed  bool
	Position int
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Text    bool
}

// Prompt is the public verification message with its single call-to-action button.
type Prompt struct {
	Content     string
	Title       string
	Description string
	Color       int
	ImageURL    string
	ButtonID    string
	ButtonLabel string
}

type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindNotFound
	KindForbidden
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// Error is returned by platform calls so callers can branch on the failure
// class without knowing the transport.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindOther
}

func IsNotFound(err error) bool {
	return err != nil && kindOf(err) == KindNotFound
}

func IsForbidden(err error) bool {
	return err != nil && kindOf(err) == KindForbidden
}

func IsTransient(err error) bool {
	return err != nil && kindOf(err) == KindTransient
}
