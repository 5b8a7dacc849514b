package node

import "github.com/meshnet/node/internal/identity"

// Command is the closed union of everything a UI or FFI layer submits
// to the orchestrator's command-in queue.
type Command interface{ isCommand() }

type CmdSendBroadcast struct{ Text string }
type CmdSendDirect struct {
	Dest identity.NodeID
	Text string
}
type CmdSendFile struct {
	Dest identity.NodeID
	Path string
}
type CmdAcceptFile struct{ FileID [16]byte }
type CmdSendVoice struct {
	Dest       *identity.NodeID
	Data       []byte
	DurationMs uint32
}
type CmdStartVoiceCall struct{ Peer identity.NodeID }
type CmdEndVoiceCall struct{}
type CmdSendAudioFrame struct {
	Peer identity.NodeID
	Data []byte
}
type CmdUpdateProfile struct {
	Name         string
	Bio          string
	Capabilities []string
}
type CmdSendPublicBroadcast struct{ Text string }
type CmdSendSOS struct {
	Text      string
	HasCoords bool
	Lat, Lon  float64
}
type CmdSendTriage struct{ Payload string }
type CmdSendResourceRequest struct{ Payload string }
type CmdSendCheckIn struct{ Payload string }
type CmdSendDisappearing struct {
	Dest       *identity.NodeID
	Text       string
	TTLSeconds uint32
}
type CmdSendGroupMessage struct{ Group, Text string }
type CmdJoinGroup struct{ Name string }
type CmdLeaveGroup struct{ Name string }
type CmdNuke struct{}
type CmdShutdown struct{}
type CmdGetStats struct{}
type CmdGetPeers struct{}

func (CmdSendBroadcast) isCommand()       {}
func (CmdSendDirect) isCommand()          {}
func (CmdSendFile) isCommand()            {}
func (CmdAcceptFile) isCommand()          {}
func (CmdSendVoice) isCommand()           {}
func (CmdStartVoiceCall) isCommand()      {}
func (CmdEndVoiceCall) isCommand()        {}
func (CmdSendAudioFrame) isCommand()      {}
func (CmdUpdateProfile) isCommand()       {}
func (CmdSendPublicBroadcast) isCommand() {}
func (CmdSendSOS) isCommand()             {}
func (CmdSendTriage) isCommand()          {}
func (CmdSendResourceRequest) isCommand() {}
func (CmdSendCheckIn) isCommand()         {}
func (CmdSendDisappearing) isCommand()    {}
func (CmdSendGroupMessage) isCommand()    {}
func (CmdJoinGroup) isCommand()           {}
func (CmdLeaveGroup) isCommand()          {}
func (CmdNuke) isCommand()                {}
func (CmdShutdown) isCommand()            {}
func (CmdGetStats) isCommand()            {}
func (CmdGetPeers) isCommand()            {}
