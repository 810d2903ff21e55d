// Package artifact defines the types, errors and component contracts shared by
// the page generation pipeline: fetcher, injector, artifact store, registry and
// the serving layer.
package artifact
