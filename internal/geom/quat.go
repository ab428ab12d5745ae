package geom

import "math"

// Quaternion is the device attitude, in w+xi+yj+zk order. Rotate maps a
// device-frame vector into the world (gravity-referenced) frame; use the
// conjugate for the opposite direction.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalized rescales q to unit length. The identity is returned for a
// degenerate (near-zero) quaternion so callers always get a valid rotation.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n < 1e-12 {
		return Identity()
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Conjugate is the inverse rotation for a unit quaternion.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{q.W, -q.X, -q.Y, -q.Z}
}

// Rotate applies the rotation to v (q v q*).
func (q Quaternion) Rotate(v Vec3) Vec3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z

	// t = 2 q_vec × v
	tx := 2 * (y*v.Z - z*v.Y)
	ty := 2 * (z*v.X - x*v.Z)
	tz := 2 * (x*v.Y - y*v.X)

	// v' = v + w t + q_vec × t
	return Vec3{
		X: v.X + w*tx + y*tz - z*ty,
		Y: v.Y + w*ty + z*tx - x*tz,
		Z: v.Z + w*tz + x*ty - y*tx,
	}
}

// Euler holds roll/pitch/yaw in degrees, ZYX convention.
type Euler struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ToEuler converts the quaternion to ZYX Euler angles in degrees.
// Pitch saturates at ±90° at the gimbal singularity.
func (q Quaternion) ToEuler() Euler {
	w, x, y, z := q.W, q.X, q.Y, q.Z

	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	const deg = 180 / math.Pi
	return Euler{Roll: roll * deg, Pitch: pitch * deg, Yaw: yaw * deg}
}

// FromEuler builds a quaternion from ZYX Euler angles in degrees.
func FromEuler(e Euler) Quaternion {
	const rad = math.Pi / 180
	cr := math.Cos(e.Roll * rad / 2)
	sr := math.Sin(e.Roll * rad / 2)
	cp := math.Cos(e.Pitch * rad / 2)
	sp := math.Sin(e.Pitch * rad / 2)
	cy := math.Cos(e.Yaw * rad / 2)
	sy := math.Sin(e.Yaw * rad / 2)

	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}
