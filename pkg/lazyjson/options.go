package lazyjson

import "os"

// Option configures a Manager at construction time.
type Option[T any] func(*options[T])

// WithIndent sets the indentation string used when writing the JSON file.
// "" produces compact JSON. Default is two spaces, matching the indentation
// envrec uses for its other hand-marshaled JSON (repodata cache files).
func WithIndent[T any](indent string) Option[T] {
	return func(o *options[T]) { o.indent = indent }
}

// WithFileMode sets the file permissions used when writing. Default 0644.
func WithFileMode[T any](mode os.FileMode) Option[T] {
	return func(o *options[T]) { o.fileMode = mode }
}

// WithCreateIfMissing controls whether a missing file is treated as the
// zero/default value (true, the default) or as a load error (false).
func WithCreateIfMissing[T any](create bool) Option[T] {
	return func(o *options[T]) { o.createIfMissing = create }
}

// WithDefaultValue supplies the value to use when the file doesn't exist
// yet, in place of T's zero value. pkgcache and linker both use this to
// seed a fresh repodata_record.json/conda-meta record from the PrefixRecord
// they're about to persist, rather than loading an empty one and copying
// fields in after the fact.
func WithDefaultValue[T any](fn func() *T) Option[T] {
	return func(o *options[T]) { o.defaultValue = fn }
}
