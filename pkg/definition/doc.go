// Package definition loads declarative batch definitions from JSON or HCL.
//
// A definition only names steps, their kinds, dependencies and arguments; the
// steps package turns it into runnable steps.
//
//	batch "boot" {
//	  step "config" {
//	    kind = "value"
//	    args = { value = "cfg" }
//	  }
//	  step "greet" {
//	    kind  = "template"
//	    needs = ["config"]
//	    args  = { text = "hello {{ .config }}" }
//	  }
//	}
package definition
