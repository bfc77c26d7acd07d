// Package ir provides the value model for resource graph nodes.
//
// This package contains leaf types only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: Null, String, Int, Float, Bool, Array
//   - A node that was never written holds Null, never a Go nil
//   - MarshalCanonical is the only encoding used for persistence and traces
package ir
