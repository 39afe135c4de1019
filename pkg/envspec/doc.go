/*
Package envspec parses container environment declarations into typed
records.

Service manifests may declare environment variables in several shapes
(bare names, literal defaults, shell-style interpolation with optional
defaults). Parse normalizes each into a Decl stating whether the value
has a default and whether it is required; Resolve evaluates a set of
declarations against the variables actually available at deploy time.
*/
package envspec
