package model

// Wire frame types carried in Envelope.Type. The envelope is a tagged
// union: each variant populates only the fields relevant to it.
const (
	FrameNewTextMessage  = "new-text-message"
	FrameNewFileMessage  = "new-file-message"
	FrameNewVoiceMessage = "new-voice-message"
	FrameMessageRead     = "message-read"
	FrameTyping          = "typing"
	FrameUserJoined      = "user-joined"
	FrameOffer           = "offer"
	FrameAnswer          = "answer"
	FrameICECandidate    = "ice-candidate"
	FrameCallType        = "call-type"
	FrameCallStarted     = "call-started"
	FrameCallEnded       = "call-ended"
	FrameEndCall         = "end-call"
)

// SessionDescription carries an SDP offer or answer. The JSON shape
// matches the browser's RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate matches the browser's RTCIceCandidateInit.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Envelope is the JSON wire frame exchanged over the room socket.
type Envelope struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`

	// Frame id for idempotent delivery; set by the sender.
	FrameID string `json:"frameId,omitempty"`

	// new-*-message
	Message *ChatMessage `json:"message,omitempty"`

	// message-read
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId,omitempty"`

	// typing: partial "currently typing" set, plus the raw signal
	// fields used client -> gateway.
	IsTyping    *bool       `json:"isTyping,omitempty"`
	TypingUsers TypingState `json:"typingUsers,omitempty"`

	// outbound text/file sends, client -> gateway
	Content  string `json:"content,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`

	// call signaling
	CallType     string              `json:"callType,omitempty"`
	CallID       string              `json:"callId,omitempty"`
	TargetUserID string              `json:"targetUserId,omitempty"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	Candidate    *ICECandidate       `json:"candidate,omitempty"`
}

// IsChatFrame reports whether the frame belongs to the message
// reconciliation path.
func (e *Envelope) IsChatFrame() bool {
	switch e.Type {
	case FrameNewTextMessage, FrameNewFileMessage, FrameNewVoiceMessage, FrameMessageRead:
		return true
	}
	return false
}

// IsCallFrame reports whether the frame belongs to call signaling.
func (e *Envelope) IsCallFrame() bool {
	switch e.Type {
	case FrameOffer, FrameAnswer, FrameICECandidate, FrameCallType,
		FrameCallStarted, FrameCallEnded, FrameEndCall:
		return true
	}
	return false
}
