// Package harness runs workflow definitions to quiescence against a
// real temp-file store and a fake clock, for use in tests.
//
// A Scenario describes the definition and initial blackboard; Start
// deploys it, creates one instance, and hands back a Run with the
// store, worker, and clock exposed. RunToQuiescence drives single
// worker passes, jumping the fake clock forward to the store's earliest
// schedule whenever no instance is claimable, so sleeps and retry
// backoffs execute instantly and deterministically.
package harness
