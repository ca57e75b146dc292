// Package classfile reads, writes and edits weft class binaries.
//
// A class binary is the compiled, loadable form of a class: a constant pool,
// the class header, its fields, its methods with their bytecode, and opaque
// attributes that are carried through rewrites untouched.
//
// # Format
//
// All integers are big-endian. The file starts with the magic "WCLS" and a
// format version; a version other than FormatVersion is rejected rather than
// migrated. Names and descriptors are stored once in the pool and referenced
// by index. Parse keeps duplicate pool entries as they appear, so Encode of
// an unmodified class reproduces its input exactly.
//
// # Editing
//
// Method code is edited as a list of Instructions produced by DecodeCode.
// Jump operands are instruction indices in that form, so Splice can insert
// instructions anywhere and EncodeCode recomputes the byte offsets:
//
//	instrs, _ := classfile.DecodeCode(m.Code)
//	instrs = classfile.Splice(instrs, 0, true, classfile.Ins(classfile.OpNop))
//	m.Code, _ = classfile.EncodeCode(instrs)
//
// Binary wraps the original bytes together with the parsed Class and a
// SymbolTable. Binary.Edit hands out a deep copy, so the original bytes and
// the parsed form are never modified.
//
// # Descriptors
//
// Field and method descriptors use the JVM grammar: Z B C S I J F D for
// primitives, Lpkg/Name; for classes, [ for arrays and V for a void return.
package classfile
