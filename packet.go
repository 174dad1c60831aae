package dcsim

import (
	"fmt"
)

// Unset marks a time field that has not been given a value yet
const Unset float64 = -1.0

// TaskPacket is one message from a cloudlet on one VM to a cloudlet on another.
// ReceiveTime stays Unset while the packet is in transit and is stamped exactly once,
// when the packet lands in the destination VM's inbox
type TaskPacket struct {
	SenderVMID   int
	ReceiverVMID int
	PayloadSize  float64 // bytes
	SendTime     float64
	ReceiveTime  float64

	// the cloudlet that sent it, used only for tracing
	CloudletID int
}

// CreateTaskPacket is a constructor
func CreateTaskPacket(sender, receiver int, payload, sendTime float64, cloudletID int) *TaskPacket {
	return &TaskPacket{SenderVMID: sender, ReceiverVMID: receiver, PayloadSize: payload,
		SendTime: sendTime, ReceiveTime: Unset, CloudletID: cloudletID}
}

// Delivered reports whether the packet has reached its destination inbox
func (pkt *TaskPacket) Delivered() bool {
	return pkt.ReceiveTime != Unset
}

// stampReceived sets the receive time.  Doing it twice, or before the send time,
// means the packet has been routed twice
func (pkt *TaskPacket) stampReceived(now float64) {
	if pkt.Delivered() {
		panic(fmt.Errorf("packet from vm %d to vm %d delivered twice", pkt.SenderVMID, pkt.ReceiverVMID))
	}
	if now < pkt.SendTime {
		panic(fmt.Errorf("packet from vm %d to vm %d received at %f before sent at %f",
			pkt.SenderVMID, pkt.ReceiverVMID, now, pkt.SendTime))
	}
	pkt.ReceiveTime = now
}

// NetworkHopPacket carries a TaskPacket across one host-to-switch, switch-to-switch,
// or switch-to-host hop.  The VM ids mirror the wrapped packet and never change;
// only the hop times are rewritten at each hop
type NetworkHopPacket struct {
	OriginHostID int
	Pkt          *TaskPacket
	DstVMID      int
	SrcVMID      int
	HopSendTime  float64
	HopRecvTime  float64
}

// createHopPacket wraps pkt for transport out of the host with id hostID
func createHopPacket(hostID int, pkt *TaskPacket) *NetworkHopPacket {
	return &NetworkHopPacket{OriginHostID: hostID, Pkt: pkt, DstVMID: pkt.ReceiverVMID,
		SrcVMID: pkt.SenderVMID, HopSendTime: Unset, HopRecvTime: Unset}
}

// sent records that the hop packet left a node at time now
func (hp *NetworkHopPacket) sent(now float64) {
	hp.HopSendTime = now
	hp.HopRecvTime = Unset
}

// arrived records that the hop packet reached a node at time now
func (hp *NetworkHopPacket) arrived(now float64) {
	hp.HopRecvTime = now
}

// transmitDelay is the time to push payload bytes through a link whose
// bandwidth is split evenly among the batch of packets being sent together
func transmitDelay(payload, bndwdth float64, batch int) float64 {
	if batch == 0 {
		return 0.0
	}
	avail := bndwdth / float64(batch)
	return (1000.0 * payload) / avail
}
