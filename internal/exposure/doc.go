// Package exposure drives the self-report flow: key derivation, report
// construction, submission, and the resulting status transition.
package exposure
