package cpu

// The register file: sixteen 32-bit registers with x86-flavoured names.
// Register 7 (esp) is the stack pointer; call/ret/push/pop step it by 4.

// RegESP is the stack pointer's index.
const RegESP = 7

// RegNames maps register index to name, for traces and dumps.
var RegNames = [16]string{
	"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}

// RegFile maps (lower-case) register name to index. The assembler folds
// case before looking names up here.
var RegFile = func() map[string]int {
	m := make(map[string]int, len(RegNames))
	for i, name := range RegNames {
		m[name] = i
	}
	return m
}()
