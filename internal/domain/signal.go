package domain

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ICEServer holds STUN/TURN server configuration handed out on join.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// JoinRequest is sent once the signaling socket is open.
type JoinRequest struct {
	Room          string
	Identity      string
	Publish       bool
	AutoSubscribe bool
}

// JoinResult is the server's answer to a join.
type JoinResult struct {
	ParticipantID string
	ICEServers    []ICEServer
}
