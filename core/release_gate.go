package core

import "github.com/signalsfoundry/conveyor-simulator/model"

// EntryBlocked reports whether any pallet keeps the entry gate closed under
// the given interlock.
func EntryBlocked(pallets []model.Pallet, interlock model.Interlock) bool {
	for _, p := range pallets {
		switch p.State {
		case model.PalletEntering:
			return true
		case model.PalletAtCheckpoint1, model.PalletMovingToCheckpoint2:
			if interlock == model.InterlockSegment {
				return true
			}
		}
	}
	return false
}

// CanAdmitPallet reports whether a new pallet may enter: the entry segment
// must be clear and one of the release flags must be set.
func CanAdmitPallet(pallets []model.Pallet, flags model.ReleaseFlags, interlock model.Interlock) bool {
	return flags.Any() && !EntryBlocked(pallets, interlock)
}
