package rag

// Float32ToFloat64 将 float32 向量扩展为 float64, nil 保持为 nil.
func Float32ToFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Float64ToFloat32 将向量压缩为 float32, 关系型存储以该精度保存向量.
func Float64ToFloat32(v []float64) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
