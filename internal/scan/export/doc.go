// Package export persists scene arrays as NumPy .npy files.
//
// Every array is encoded in memory, written to a temporary name and renamed
// into place, so a reader never sees a truncated artifact. SceneWriter
// writes the vertex array last; its presence marks a completed scan.
package export
