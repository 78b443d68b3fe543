// Package steps builds runnable steps from definitions. Each step kind is a
// Factory registered under its name; the built-in kinds are value, fail,
// collect, template and llm.
package steps
