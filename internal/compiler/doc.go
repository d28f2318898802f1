// Package compiler turns a form configuration into an executable Plan.
//
// Loading accepts JSON, YAML and CUE sources. Compile then assigns template
// paths to every field (array items appear as "*"), compiles expressions,
// conditions and validators, binds registry functions by name, resolves
// each logic entry's dependency set, and analyzes the derivation graph:
//
//   - dependsOn paths and the references read by expressions and conditions
//     form the dependency set; function sources without dependsOn depend
//     on nothing
//   - a cycle between exactly two fields is accepted as a bidirectional
//     pair and left to the engine's stabilization policy
//   - any other cycle is a configuration error
//
// Every configuration problem is collected and reported together in a
// ConfigError with E2xx codes.
package compiler
