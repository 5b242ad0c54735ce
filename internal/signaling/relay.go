package signaling

import (
	"github.com/mossy-p/etherchat/internal/models"
)

// relay forwards ev to the single connection toID. Unknown targets are
// dropped: delivery is at most once with no acknowledgement.
func (h *Hub) relay(ev models.ServerEvent, fromID, toID string) bool {
	target, ok := h.registry.Get(toID)
	if !ok {
		h.logger.Debug("relay target not connected", "event", ev.Name(), "conn", fromID, "peer", toID)
		return false
	}

	frame, err := models.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", "event", ev.Name(), "err", err)
		return false
	}
	return h.deliver(target, frame)
}

// send writes ev to c alone.
func (h *Hub) send(c *Client, ev models.ServerEvent) bool {
	frame, err := models.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", "event", ev.Name(), "err", err)
		return false
	}
	return h.deliver(c, frame)
}

// broadcast writes ev to every member of roomID except excludeID.
func (h *Hub) broadcast(roomID string, ev models.ServerEvent, excludeID string) {
	frame, err := models.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", "event", ev.Name(), "err", err)
		return
	}

	for _, id := range h.directory.Members(roomID) {
		if id == excludeID {
			continue
		}
		if c, ok := h.registry.Get(id); ok {
			h.deliver(c, frame)
		}
	}
}

// deliver never blocks the hub: a client whose buffer is full loses the frame.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		h.logger.Warn("send buffer full, dropping frame", "conn", c.ID)
		return false
	}
}

func (h *Hub) handleInitiateCall(c *Client, ev *models.InitiateCall) {
	codename := ev.Codename
	if codename == "" {
		codename = c.Codename
	}
	h.logger.Info("call initiated", "room", c.RoomID, "conn", c.ID, "peer", ev.To)
	h.relay(&models.CallIncoming{From: c.ID, Codename: codename}, c.ID, ev.To)
}

func (h *Hub) handleSignal(c *Client, ev *models.SendSignal) {
	h.relay(&models.Signal{Signal: ev.Signal, From: c.ID}, c.ID, ev.To)
}

func (h *Hub) handleCallAccepted(c *Client, ev *models.AcceptCall) {
	h.relay(&models.CallAccepted{From: c.ID}, c.ID, ev.To)
}

func (h *Hub) handleCallRejected(c *Client, ev *models.RejectCall) {
	h.relay(&models.CallRejected{From: c.ID}, c.ID, ev.To)
}

func (h *Hub) handleEndCall(c *Client, ev *models.EndCall) {
	if ev.To == "" {
		return
	}
	h.relay(&models.CallEnded{From: c.ID}, c.ID, ev.To)
}

// handleText fans a chat line out to the sender's room, sender included.
func (h *Hub) handleText(c *Client, ev *models.SendText) {
	if c.RoomID == "" {
		h.logger.Debug("text from connection outside any room", "conn", c.ID)
		return
	}
	if ev.RoomID != "" && ev.RoomID != c.RoomID {
		h.logger.Debug("text addressed to foreign room", "conn", c.ID, "room", ev.RoomID)
		return
	}

	codename := ev.Codename
	if codename == "" {
		codename = c.Codename
	}
	h.broadcast(c.RoomID, &models.TextMessage{
		From:      c.ID,
		Codename:  codename,
		Message:   ev.Message,
		Timestamp: h.now().UnixMilli(),
	}, "")
}
