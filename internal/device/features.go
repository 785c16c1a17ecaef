package device

import (
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/llmfunc/internal/logger"
)

// Features reports the SIMD extensions of the host CPU.
func Features() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(cpu.X86.HasAVX, "avx")
	add(cpu.X86.HasAVX2, "avx2")
	add(cpu.X86.HasFMA, "fma")
	add(cpu.X86.HasAVX512F, "avx512f")
	add(cpu.X86.HasAVX512BW, "avx512bw")
	add(cpu.X86.HasAVX512VNNI, "avx512vnni")
	add(cpu.X86.HasSSE41, "sse4.1")
	add(cpu.ARM64.HasASIMD, "neon")
	add(cpu.ARM64.HasASIMDHP, "fp16")
	add(cpu.ARM64.HasASIMDDP, "dotprod")
	add(cpu.ARM64.HasSVE, "sve")
	return out
}

// LogCapabilities writes one line describing the device and the attention
// path that will be used.
func LogCapabilities(log logger.Logger, d Device, flashAttn bool) {
	if log == nil {
		return
	}
	feats := d.Features()
	log.Info("device",
		"name", d.Name(),
		"threads", d.Threads(),
		"features", strings.Join(feats, ","),
	)
	if flashAttn {
		log.Warn("flash attention is not supported on cpu, using the standard attention path")
	}
}
