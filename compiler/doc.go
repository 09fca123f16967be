/*

Process of compilation

Program Text ->
	tokenize ->
Token Stream ->
	parse ->
Abstract Syntax Tree (ast) ->
	generate ->
Assembly Text (32-bit x86, AT&T)

The emitted program is linked against a runtime providing `allocate`,
implemented by the gc package. The emu package interprets the assembly
directly, bridging `call allocate` to the same collector.

*/
package compiler
