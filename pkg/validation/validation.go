package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxRoomIDLength = 128
	maxNameLength   = 64
	maxIDLength     = 128
	maxChatLength   = 2000
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// IDRegex validates engine issued identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > maxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", maxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateDisplayName validates the name a peer joins with
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name is too long (max %d characters)", maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters")
		}
	}
	return nil
}

// ValidateID validates a transport, producer or consumer ID named by field
func ValidateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateMediaKind validates media kind
func ValidateMediaKind(kind string) error {
	if kind != "audio" && kind != "video" {
		return fmt.Errorf("invalid kind (must be audio or video)")
	}
	return nil
}

// ValidateChatText validates a chat message body
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		return fmt.Errorf("text is too long (max %d characters)", maxChatLength)
	}
	return nil
}
