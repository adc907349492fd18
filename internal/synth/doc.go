// Package synth runs the reconciliation pipeline for a single change event.
//
// A pass goes through these steps:
//
//  1. Skip-check: a modification written only to the status subresource has
//     no side effects.
//  2. Announce: an UpdateStarted lifecycle event and Ready=False/Progressing.
//  3. Resolve ${ref://...} placeholders in the desired state.
//  4. Apply (or tear down) through the block's engine adapter.
//  5. Reduce the adapter outputs plus Ready=True into a status patch.
//  6. Report the outcome to the event sink and the notifier.
//
// Every timestamp written during a pass is the pass start time.
package synth
