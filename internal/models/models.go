package models

// Room status values.
const (
	RoomStatusOpen   = "open"
	RoomStatusClosed = "closed"
)

// Message sources in the merged timeline.
const (
	SourceChat     = "chat"
	SourceWhatsApp = "whatsapp"
)

// DefaultUserRole is assigned to users created on first sighting of a phone.
const DefaultUserRole = "user"

// RoomMetadata records where a room creation request came from.
type RoomMetadata struct {
	UserAgent  string `json:"userAgent" bson:"userAgent"`
	IPAddress  string `json:"ipAddress" bson:"ipAddress"`
	Timestamp  string `json:"timestamp" bson:"timestamp"`
	APIVersion string `json:"apiVersion" bson:"apiVersion"`
}

// Room is a per-phone conversation container and the unit of membership and broadcast.
// Status is open exactly while ConnectedSockets is non-empty; ClosedAt is set only while closed.
type Room struct {
	ID               DocID        `json:"id" bson:"_id"`
	Name             string       `json:"name" bson:"name"`
	Phone            string       `json:"phone" bson:"phone"`
	Channel          string       `json:"channel" bson:"channel"`
	Source           string       `json:"source" bson:"source"`
	Status           string       `json:"status" bson:"status"`
	ConnectedSockets []string     `json:"connectedSockets" bson:"connectedSockets"`
	OpenedAt         string       `json:"openedAt" bson:"openedAt"`
	ClosedAt         *string      `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	CreatedAt        string       `json:"createdAt" bson:"createdAt"`
	UpdatedAt        string       `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	CreatedFrom      string       `json:"createdFrom,omitempty" bson:"createdFrom,omitempty"`
	Username         *string      `json:"username,omitempty" bson:"username,omitempty"`
	ContactID        *DocID       `json:"contactId,omitempty" bson:"contactId,omitempty"`
	Tags             string       `json:"tags,omitempty" bson:"tags,omitempty"`
	Metadata         RoomMetadata `json:"metadata" bson:"metadata"`
}

// User maps a phone number to a stable record and its most recent socket.
// IsConnected is true exactly while SocketID is set.
type User struct {
	ID             DocID    `json:"_id" bson:"_id" db:"id"`
	Phone          string   `json:"phone" bson:"phone" db:"phone"`
	SocketID       *string  `json:"socketId,omitempty" bson:"socketId,omitempty" db:"socket_id"`
	IsConnected    bool     `json:"isConnected" bson:"isConnected" db:"is_connected"`
	ConnectedAt    *string  `json:"connectedAt,omitempty" bson:"connectedAt,omitempty" db:"connected_at"`
	DisconnectedAt *string  `json:"disconnectedAt,omitempty" bson:"disconnectedAt,omitempty" db:"disconnected_at"`
	Rooms          []string `json:"rooms" bson:"rooms" db:"-"`
	Role           string   `json:"role" bson:"role" db:"role"`
	CreatedAt      string   `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt      *string  `json:"updatedAt,omitempty" bson:"updatedAt,omitempty" db:"updated_at"`
}

// ChatMessage is a message posted from a browser socket. Immutable after creation
// except for the contact references rewritten by contact fan-out.
type ChatMessage struct {
	ID        DocID   `json:"_id" bson:"_id" db:"id"`
	RoomID    string  `json:"roomId" bson:"roomId" db:"room_id"`
	Content   string  `json:"content" bson:"content" db:"content"`
	Timestamp Stamp   `json:"timestamp" bson:"timestamp" db:"sent_at"`
	SocketID  string  `json:"socketId" bson:"socketId" db:"socket_id"`
	Username  string  `json:"username" bson:"username" db:"username"`
	Type      string  `json:"type" bson:"type" db:"msg_type"`
	Welcome   bool    `json:"welcome,omitempty" bson:"welcome,omitempty" db:"is_welcome"`
	Read      bool    `json:"read" bson:"read" db:"is_read"`
	Phone     *string `json:"phone,omitempty" bson:"phone,omitempty" db:"phone"`
	ContactID *DocID  `json:"contactId,omitempty" bson:"contactId,omitempty" db:"contact_id"`
	Tags      *string `json:"tags,omitempty" bson:"tags,omitempty" db:"tags"`
}

// WatiMessage is a WhatsApp message delivered by the WATI webhook. RoomID is nil
// while no room exists for Phone.
type WatiMessage struct {
	ID             DocID   `json:"_id" bson:"_id" db:"id"`
	MessageID      string  `json:"messageId" bson:"messageId" db:"message_id"`
	RoomID         *DocID  `json:"roomId" bson:"roomId" db:"room_id"`
	Phone          string  `json:"phone" bson:"phone" db:"phone"`
	Username       string  `json:"username" bson:"username" db:"username"`
	Message        string  `json:"message" bson:"message" db:"message"`
	TypeMessage    string  `json:"type_message" bson:"type_message" db:"type_message"`
	ConversationID string  `json:"conversationId" bson:"conversationId" db:"conversation_id"`
	TicketID       string  `json:"ticketId" bson:"ticketId" db:"ticket_id"`
	Date           Stamp   `json:"date" bson:"date" db:"sent_date"`
	ContactID      *DocID  `json:"contactId,omitempty" bson:"contactId,omitempty" db:"contact_id"`
	Tags           *string `json:"tags,omitempty" bson:"tags,omitempty" db:"tags"`
	CreatedAt      string  `json:"createdAt" bson:"createdAt" db:"created_at"`
}

// Contact is an address-book entry. Phone and Username are unique.
type Contact struct {
	ID        DocID   `json:"_id" bson:"_id" db:"id"`
	Source    string  `json:"source" bson:"source" db:"source"`
	Phone     string  `json:"phone" bson:"phone" db:"phone"`
	Username  string  `json:"username" bson:"username" db:"username"`
	Notes     string  `json:"notes" bson:"notes" db:"notes"`
	Tags      string  `json:"tags" bson:"tags" db:"tags"`
	CreatedAt string  `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt *string `json:"updatedAt,omitempty" bson:"updatedAt,omitempty" db:"updated_at"`
}

// Response types.
const (
	ResponseTypeText  = "text"
	ResponseTypeImage = "image"
	ResponseTypeMixed = "mixed"
)

// Response is a canned reply template addressed by its atajo (shortcut).
type Response struct {
	ID        DocID    `json:"_id" bson:"_id"`
	Atajo     string   `json:"atajo" bson:"atajo"`
	Text      string   `json:"text" bson:"text"`
	Image     string   `json:"image" bson:"image"`
	Type      string   `json:"type" bson:"type"`
	Status    bool     `json:"status" bson:"status"`
	Triggers  []string `json:"triggers" bson:"triggers"`
	CreatedAt string   `json:"createdAt" bson:"createdAt"`
	UpdatedAt string   `json:"updatedAt" bson:"updatedAt"`
}

// SettingsID is the fixed id of the single settings document.
const SettingsID = "68f3e4f06bf3bb05a68d898f"

// Settings holds the public profile of the chat operator.
type Settings struct {
	ID             DocID  `json:"_id" bson:"_id" db:"id"`
	ProfileImage   string `json:"profileImage" bson:"profileImage" db:"profile_image"`
	IsConnected    bool   `json:"isConnected" bson:"isConnected" db:"is_connected"`
	DisplayName    string `json:"displayName" bson:"displayName" db:"display_name"`
	PlatformLink   string `json:"platformLink" bson:"platformLink" db:"platform_link"`
	Description    string `json:"description" bson:"description" db:"description"`
	WelcomeMessage string `json:"welcomeMessage" bson:"welcomeMessage" db:"welcome_message"`
	Phone          string `json:"phone" bson:"phone" db:"phone"`
	Timestamp      string `json:"timestamp" bson:"timestamp" db:"saved_at"`
	CreatedAt      string `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt      string `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// TimelineEntry is the common projection of chat and WhatsApp messages.
type TimelineEntry struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	SocketID       string `json:"socketId,omitempty"`
	Username       string `json:"username"`
	Type           string `json:"type"`
	Source         string `json:"source"`
	Phone          string `json:"phone,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	TicketID       string `json:"ticketId,omitempty"`
}

// SocketPresence is one connected socket joined with its user.
type SocketPresence struct {
	SocketID string  `json:"socketId"`
	Phone    *string `json:"phone"`
	Role     string  `json:"role"`
}

// RoomConnections is the membership view of a room.
type RoomConnections struct {
	RoomID           string           `json:"roomId"`
	Status           string           `json:"status"`
	ConnectedSockets []string         `json:"connectedSockets"`
	Users            []SocketPresence `json:"users,omitempty"`
	ConnectedCount   int              `json:"connectedCount"`
}

// FanOutResult counts documents rewritten by a contact change.
type FanOutResult struct {
	RoomsUpdated            int64 `json:"roomsUpdated"`
	MessagesUpdated         int64 `json:"messagesUpdated"`
	WhatsappMessagesUpdated int64 `json:"whatsappMessagesUpdated"`
}
