// Package frames resolves the rigid transform between a sensor frame and the
// world frame at a given instant.
//
// Transforms arrive as parent/child samples. A Buffer keeps a short history
// per pair so that a batch is projected with the pose that was valid when it
// was captured, not whatever arrived last.
package frames
