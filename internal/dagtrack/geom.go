package dagtrack

// specular reflection (assume unit I,N)
func reflect3(I, N Vector3) Vector3 {
	return I.Sub(N.Mul(2 * I.Dot(N)))
}
