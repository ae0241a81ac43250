package state

import (
	"fmt"
	"math"
)

var instanceLiveUntilKey = []byte("instance/live-until")

// InstanceLiveUntil returns the last ledger sequence through which the
// instance storage region stays live. ok is false for a fresh instance.
func (m *Manager) InstanceLiveUntil() (uint32, bool, error) {
	var stored uint64
	ok, err := m.KVGet(instanceLiveUntilKey, &stored)
	if err != nil || !ok {
		return 0, false, err
	}
	if stored > math.MaxUint32 {
		return 0, false, fmt.Errorf("state: live-until overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// ExtendInstanceTTL refreshes the instance lifetime. When the remaining
// lifetime at current is at or below threshold the region is extended to live
// through current+bump (saturating); otherwise nothing is written. It returns
// the resulting live-until sequence and whether a write happened.
func (m *Manager) ExtendInstanceTTL(current, threshold, bump uint32) (uint32, bool, error) {
	liveUntil, ok, err := m.InstanceLiveUntil()
	if err != nil {
		return 0, false, err
	}
	var remaining uint32
	if ok && liveUntil > current {
		remaining = liveUntil - current
	}
	if ok && remaining > threshold {
		return liveUntil, false, nil
	}
	target := saturatingAdd(current, bump)
	if ok && liveUntil >= target {
		return liveUntil, false, nil
	}
	if err := m.KVPut(instanceLiveUntilKey, uint64(target)); err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// InstanceArchived reports whether the recorded lifetime ended before
// current. Fresh instances are never archived.
func (m *Manager) InstanceArchived(current uint32) (bool, error) {
	liveUntil, ok, err := m.InstanceLiveUntil()
	if err != nil || !ok {
		return false, err
	}
	return liveUntil < current, nil
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
