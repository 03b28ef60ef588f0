// Package internal contains the implementation packages for sitewright.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - build: Result type, the pipeline that joins producers, and the reporter
//   - scripts: JavaScript bundling, one-shot and incremental
//   - templates: HTML rendering with the shared base path
//   - styles: Sass compilation, vendor prefixing and source maps
//   - assets: verbatim copying of static files
//   - server: static dev server with live reload injection
//   - watcher: file system monitoring with debouncing
//   - websocket: live reload hub and message types
//   - publish: committing the output tree to the hosting branch
//   - config, errors, logging, glob, version: shared support code
//
// # Inter-Package Communication
//
// Producers never talk to each other. Each one returns a build.Result; the
// build.Pipeline runs them, and the build.Reporter turns results into log
// lines, desktop notifications and live reload messages. The watcher feeds
// debounced batches of changed paths back into the pipeline, which routes
// them to the producers whose watch globs match.
//
// The build package depends only on interfaces, so the producer packages
// import it and the cmd package wires concrete producers in through a
// build.Factory.
package internal
