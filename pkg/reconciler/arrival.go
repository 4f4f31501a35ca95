package reconciler

import "github.com/arkestra/ravel/pkg/types"

// NotifyArrival implements changetransfer.ArrivalHandler. It is wired
// by the caller via changetransfer.Transfer.OnArrival(rec.NotifyArrival)
// and promotes any pending dcache entry waiting on (key, version) to
// clean (or active_read, if handles are already open on it) the
// moment the blob lands locally — this is tick step 2 of spec.md
// §4.7, run as a push rather than a poll.
func (r *Reconciler) NotifyArrival(key, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := DecodePath(key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("arrival for undecodable key")
		return
	}

	ni, ok := r.get(p)
	if !ok || ni.State != types.StatePending || ni.Version != version {
		return
	}

	ni.PreviousVersion = ""
	if ni.OpenHandles > 0 {
		ni.State = types.StateActiveRead
	} else {
		ni.State = types.StateClean
	}
}
