// Package module defines native modules and the registry that resolves
// serialized (moduleID, methodID) pairs to invocable methods.
//
// Module ids are assigned in registration order and never change for the
// registry's lifetime, so the stub table handed to the script side at
// setup time stays valid. Method ids are the index of the method in the
// module's descriptor list.
package module
