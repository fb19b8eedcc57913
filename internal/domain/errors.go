package domain

import "errors"

var (
	ErrEmptyMessage      = errors.New("message can not be empty")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotMessageOwner   = errors.New("message belongs to another user")
	ErrOwnMessage        = errors.New("own messages can not be reported")
	ErrAlreadyReported   = errors.New("message was already reported")
	ErrNotEditable       = errors.New("only text messages can be edited")
	ErrChatNotFound      = errors.New("chat not found")
	ErrNoActiveChat      = errors.New("no chat is open")
	ErrCounterpartBanned = errors.New("counterpart is banned")
	ErrNoFileSelected    = errors.New("no file selected")
	ErrUnsupportedMedia  = errors.New("only images and PDFs are allowed")
	ErrFileTooLarge      = errors.New("file is too large")
)
