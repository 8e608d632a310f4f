package core

// error_messages.go maps technical errors to user-facing messages with codes
// that users can quote to support.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the upload size limit
//	          Patterns: "file too large"
//	FILE002 - Invalid file: File is not valid CSV or dataset JSON
//	          Patterns: "invalid csv", "invalid json dataset"
//	FILE003 - Encoding error: File contains invalid characters
//	          Patterns: "encoding error"
//	FILE004 - No file: No file was selected
//	          Patterns: "no file provided"
//	FILE005 - No data: The file has a header but no data rows
//	          Patterns: "no data found in file", "invalid dataset"
//	FILE006 - Unsupported format: Unknown export or rule file format
//	          Patterns: "unsupported export format", "unsupported rule file format"
//
// # Rule Errors (RULE001-RULE099)
//
//	RULE001 - Invalid parameters: A rule's parameters are missing or wrong
//	          Patterns: "invalid parameters"
//	RULE002 - Unknown operation: The rule names an operation that does not exist
//	          Patterns: "unknown operation"
//	RULE003 - Unknown template: The rule template does not exist
//	          Patterns: "unknown template"
//	RULE004 - Rule not found: The rule is not in the session's list
//	          Patterns: "rule not found"
//	RULE005 - Too many rules: The session's rule list is full
//	          Patterns: "rule limit reached"
//	RULE006 - Invalid rule file: The rule file could not be read
//	          Patterns: "decode rules"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: The session expired or never existed
//	         Patterns: "session not found"
//	SES002 - Too many sessions: The server holds too many open sessions
//	         Patterns: "too many sessions"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: Too many uploads or cleaning passes in progress
//	         Patterns: "too many uploads"
//	UPL004 - Request cancelled
//	         Patterns: "context canceled"
//	UPL005 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # History Errors (DB001-DB099)
//
//	DB004 - Connection refused: Unable to reach the history database
//	        Patterns: "connection refused"
//	DB008 - Run not found: The cleaning run is not in the history
//	        Patterns: "run not found"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application logs for
// the original technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}
	msgInvalidFile = UserMessage{
		Message: "File is not a valid CSV or dataset JSON file",
		Action:  "Ensure the file is comma-separated with a header row",
		Code:    "FILE002",
	}
	msgNoData = UserMessage{
		Message: "The file has no data rows",
		Action:  "Upload a file with a header row and at least one data row",
		Code:    "FILE005",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "Unsupported file format",
		Action:  "Use csv, json or tde for exports and json or yaml for rule files",
		Code:    "FILE006",
	}
	msgInvalidParams = UserMessage{
		Message: "The rule parameters are invalid",
		Action:  "Check the required parameters for this operation",
		Code:    "RULE001",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// File errors
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "request body too large", msg: msgFileTooLarge},
	{pattern: "invalid csv", msg: msgInvalidFile},
	{pattern: "invalid json dataset", msg: msgInvalidFile},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{pattern: "no data found in file", msg: msgNoData},
	{pattern: "invalid dataset", msg: msgNoData},
	{pattern: "unsupported export format", msg: msgUnsupportedFormat},
	{pattern: "unsupported rule file format", msg: msgUnsupportedFormat},

	// Rule errors
	{
		pattern: "decode rules",
		msg: UserMessage{
			Message: "The rule file could not be read",
			Action:  "Use a JSON array of rules or a {\"rules\": [...]} document",
			Code:    "RULE006",
		},
	},
	{pattern: "invalid parameters", msg: msgInvalidParams},
	{
		pattern: "unknown operation",
		msg: UserMessage{
			Message: "The rule uses an unknown operation",
			Action:  "Pick an operation from the rule catalog",
			Code:    "RULE002",
		},
	},
	{
		pattern: "unknown template",
		msg: UserMessage{
			Message: "Rule template not found",
			Action:  "Pick a template from the rule catalog",
			Code:    "RULE003",
		},
	},
	{
		pattern: "rule not found",
		msg: UserMessage{
			Message: "Rule not found",
			Action:  "Refresh the page to reload the rule list",
			Code:    "RULE004",
		},
	},
	{
		pattern: "rule limit reached",
		msg: UserMessage{
			Message: "The rule list is full",
			Action:  "Remove unused rules before adding new ones",
			Code:    "RULE005",
		},
	},

	// Session errors
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Session not found",
			Action:  "The session may have expired. Please upload the file again",
			Code:    "SES001",
		},
	},
	{
		pattern: "too many sessions",
		msg: UserMessage{
			Message: "The server is holding too many open sessions",
			Action:  "Close sessions you no longer need or try again later",
			Code:    "SES002",
		},
	},

	// Upload and pass errors
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "System is busy processing other files",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or fewer rules",
			Code:    "UPL005",
		},
	},

	// History errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the history database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Cleaning run not found",
			Action:  "The run may have been removed by the retention policy",
			Code:    "DB008",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern, or ERR000 when none matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern, meaning its
// mapped message is more useful than the generic ERR000 one.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
