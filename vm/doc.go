// Package vm implements the Garnet virtual machine.
//
// This package contains:
//   - Low-bit tagged value representation with immediate flonums
//   - Arena heap with mark-and-sweep collection
//   - Classes, modules, singleton classes and mixin ancestry
//   - ISeq bytecode, builder and disassembler
//   - Stack interpreter with inline method and constant caches
//   - Exceptions, ensure, break/next/return unwinding
//   - Fibers on goroutines and fiber-backed enumerators
//   - Core class implementations
package vm
