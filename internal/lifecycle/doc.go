// Package lifecycle drives refresh runs through preview, approval, commit, and cancellation.
//
// [Manager.CreatePreview] asks the selector for a replacement block and stores it as a run whose
// removals are pre-approved and whose additions await review. [Manager.Commit] applies an approved
// run: it claims the run, updates the external playlist, then retires the old block, activates the
// new one, and records history in a single transaction.
//
// Commits and cancellations race through [repositories.RunRepository.Claim] and
// [repositories.RunRepository.Transition], which are conditional updates, so exactly one of them wins.
// An external failure leaves the run in preview with the error attached; committing it again is safe.
package lifecycle
