package projection

import "context"

// adjustListCounts applies a delta to a list's denormalized counters. An
// absent list is a no-op: the list may not have been projected yet, and a
// late-arriving list row gets repaired by RecomputeListCounts. Counters
// clamp at zero so skipped out-of-order deltas can never drive them
// negative; the resulting drift is repairable only via a rebuild.
func adjustListCounts(ctx context.Context, store Store, userID, listID string, taskDelta, completedDelta int) error {
	list, err := store.GetList(ctx, userID, listID)
	if err != nil {
		return err
	}
	if list == nil {
		return nil
	}
	list.TaskCount = max(0, list.TaskCount+taskDelta)
	list.CompletedTaskCount = max(0, list.CompletedTaskCount+completedDelta)
	return store.PutList(ctx, list)
}

func boolDelta(b bool) int {
	if b {
		return 1
	}
	return 0
}
