// Package gpu owns the EGL context and the GLES3 upload/draw path (C7): one
// luma+two-chroma texture set per stream, a BT.709 TV-range YUV->RGB
// fragment shader, and the keystone matrix uniform upload. GLES3 is
// required (not GLES2) for GL_UNPACK_ROW_LENGTH, which the stride-aware
// plane upload in UploadPlane depends on.
package gpu

/*
#cgo pkg-config: egl glesv2

#include <stdlib.h>
#include <string.h>
#include <EGL/egl.h>
#include <GLES3/gl3.h>

static GLuint compile_shader(GLenum type, const char *src) {
    GLuint shader = glCreateShader(type);
    glShaderSource(shader, 1, &src, NULL);
    glCompileShader(shader);
    GLint ok = 0;
    glGetShaderiv(shader, GL_COMPILE_STATUS, &ok);
    if (!ok) {
        glDeleteShader(shader);
        return 0;
    }
    return shader;
}

static GLuint link_program(GLuint vs, GLuint fs) {
    GLuint prog = glCreateProgram();
    glAttachShader(prog, vs);
    glAttachShader(prog, fs);
    glBindAttribLocation(prog, 0, "a_position");
    glBindAttribLocation(prog, 1, "a_texcoord");
    glLinkProgram(prog);
    GLint ok = 0;
    glGetProgramiv(prog, GL_LINK_STATUS, &ok);
    if (!ok) {
        glDeleteProgram(prog);
        return 0;
    }
    return prog;
}

static GLuint make_plane_texture(void) {
    GLuint tex;
    glGenTextures(1, &tex);
    glBindTexture(GL_TEXTURE_2D, tex);
    glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MIN_FILTER, GL_LINEAR);
    glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MAG_FILTER, GL_LINEAR);
    glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_S, GL_CLAMP_TO_EDGE);
    glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_T, GL_CLAMP_TO_EDGE);
    return tex;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// vertexShader draws a single textured quad covering the full viewport;
// the keystone matrix reprojects its corners (§4.6 "Projective transform
// applied in the vertex stage").
const vertexShaderSrc = `
attribute vec2 a_position;
attribute vec2 a_texcoord;
uniform mat3 u_keystone;
varying vec2 v_texcoord;
void main() {
    vec3 p = u_keystone * vec3(a_position, 1.0);
    gl_Position = vec4(p.xy / p.z, 0.0, 1.0);
    v_texcoord = a_texcoord;
}
`

// fragmentShaderSrc performs BT.709 TV-range (16-235) YUV -> RGB conversion
// (§4.6) reading from three single-channel planar textures, matching the
// planar layout the decoder and pool hand off (no sws_scale step).
const fragmentShaderSrc = `
precision mediump float;
varying vec2 v_texcoord;
uniform sampler2D u_texY;
uniform sampler2D u_texU;
uniform sampler2D u_texV;
void main() {
    float y = (texture2D(u_texY, v_texcoord).r * 255.0 - 16.0) / 219.0;
    float u = (texture2D(u_texU, v_texcoord).r * 255.0 - 128.0) / 224.0;
    float v = (texture2D(u_texV, v_texcoord).r * 255.0 - 128.0) / 224.0;
    float r = y + 1.5748 * v;
    float g = y - 0.1873 * u - 0.4681 * v;
    float b = y + 1.8556 * u;
    gl_FragColor = vec4(clamp(vec3(r, g, b), 0.0, 1.0), 1.0);
}
`

// quadVertices is a unit [-1,1] quad with its matching texture coordinates.
var quadVertices = [16]float32{
	// x, y, u, v
	-1, -1, 0, 1,
	1, -1, 1, 1,
	-1, 1, 0, 0,
	1, 1, 1, 0,
}

// StreamTextures holds one stream's three planar textures.
type StreamTextures struct {
	Y, U, V C.GLuint
}

// Context owns the GLES program, the shared quad geometry, and one
// StreamTextures set per stream (1 or 2, §1/§6).
type Context struct {
	program C.GLuint

	locPosition C.GLint
	locTexcoord C.GLint
	locKeystone C.GLint
	locTexY     C.GLint
	locTexU     C.GLint
	locTexV     C.GLint

	vbo C.GLuint

	streams []StreamTextures
}

// NewContext compiles the shader program and allocates nStreams texture
// sets. The caller must already have a current EGL context (owned by
// internal/display, which creates the surface the GPU context draws into).
func NewContext(nStreams int) (*Context, error) {
	vsSrc := C.CString(vertexShaderSrc)
	defer C.free(unsafe.Pointer(vsSrc))
	fsSrc := C.CString(fragmentShaderSrc)
	defer C.free(unsafe.Pointer(fsSrc))

	vs := C.compile_shader(C.GL_VERTEX_SHADER, vsSrc)
	if vs == 0 {
		return nil, fmt.Errorf("gpu: vertex shader compile failed")
	}
	fs := C.compile_shader(C.GL_FRAGMENT_SHADER, fsSrc)
	if fs == 0 {
		return nil, fmt.Errorf("gpu: fragment shader compile failed")
	}
	prog := C.link_program(vs, fs)
	if prog == 0 {
		return nil, fmt.Errorf("gpu: program link failed")
	}

	nPosition := C.CString("a_position")
	defer C.free(unsafe.Pointer(nPosition))
	nTexcoord := C.CString("a_texcoord")
	defer C.free(unsafe.Pointer(nTexcoord))
	nKeystone := C.CString("u_keystone")
	defer C.free(unsafe.Pointer(nKeystone))
	nTexY := C.CString("u_texY")
	defer C.free(unsafe.Pointer(nTexY))
	nTexU := C.CString("u_texU")
	defer C.free(unsafe.Pointer(nTexU))
	nTexV := C.CString("u_texV")
	defer C.free(unsafe.Pointer(nTexV))

	ctx := &Context{
		program:     prog,
		locPosition: C.glGetAttribLocation(prog, nPosition),
		locTexcoord: C.glGetAttribLocation(prog, nTexcoord),
		locKeystone: C.glGetUniformLocation(prog, nKeystone),
		locTexY:     C.glGetUniformLocation(prog, nTexY),
		locTexU:     C.glGetUniformLocation(prog, nTexU),
		locTexV:     C.glGetUniformLocation(prog, nTexV),
	}

	var vbo C.GLuint
	C.glGenBuffers(1, &vbo)
	C.glBindBuffer(C.GL_ARRAY_BUFFER, vbo)
	C.glBufferData(C.GL_ARRAY_BUFFER, C.GLsizeiptr(len(quadVertices)*4), unsafe.Pointer(&quadVertices[0]), C.GL_STATIC_DRAW)
	ctx.vbo = vbo

	ctx.streams = make([]StreamTextures, nStreams)
	for i := range ctx.streams {
		ctx.streams[i] = StreamTextures{
			Y: C.make_plane_texture(),
			U: C.make_plane_texture(),
			V: C.make_plane_texture(),
		}
	}

	return ctx, nil
}

// UploadPlane uploads one decoded plane into stream's texture slot via
// glTexSubImage2D-compatible sizing, honoring stride as the GL row length
// (§4.6 "Sub-image upload honoring stride"). When firstUpload is true the
// texture storage is allocated at width x height with glTexImage2D;
// otherwise the plane is written into the existing storage with
// glTexSubImage2D. Storage is not reallocated when width or height change
// after the first upload.
func (c *Context) UploadPlane(streamIdx int, plane int, data []byte, strideBytes, width, height int, firstUpload bool) {
	tex := c.textureFor(streamIdx, plane)
	C.glBindTexture(C.GL_TEXTURE_2D, tex)

	// GL_UNPACK_ROW_LENGTH lets us upload directly from a strided plane
	// without repacking it row by row on the CPU.
	C.glPixelStorei(C.GL_UNPACK_ROW_LENGTH, C.GLint(strideBytes))

	ptr := unsafe.Pointer(nil)
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}

	if firstUpload {
		C.glTexImage2D(C.GL_TEXTURE_2D, 0, C.GL_LUMINANCE, C.GLsizei(width), C.GLsizei(height), 0, C.GL_LUMINANCE, C.GL_UNSIGNED_BYTE, ptr)
	} else {
		C.glTexSubImage2D(C.GL_TEXTURE_2D, 0, 0, 0, C.GLsizei(width), C.GLsizei(height), C.GL_LUMINANCE, C.GL_UNSIGNED_BYTE, ptr)
	}
	C.glPixelStorei(C.GL_UNPACK_ROW_LENGTH, 0)
}

func (c *Context) textureFor(streamIdx, plane int) C.GLuint {
	st := c.streams[streamIdx]
	switch plane {
	case 0:
		return st.Y
	case 1:
		return st.U
	default:
		return st.V
	}
}

// Clear clears the framebuffer to opaque black, run once per present cycle
// before drawing every active stream (§4.5).
func Clear() {
	C.glClearColor(0, 0, 0, 1)
	C.glClear(C.GL_COLOR_BUFFER_BIT)
}

// DrawStream binds streamIdx's three textures and draws the keystoned quad
// with keystoneMat as the vertex-stage projective matrix (§4.6).
func (c *Context) DrawStream(streamIdx int, keystoneMat [9]float32) {
	C.glUseProgram(c.program)

	C.glBindBuffer(C.GL_ARRAY_BUFFER, c.vbo)
	C.glEnableVertexAttribArray(C.GLuint(c.locPosition))
	C.glVertexAttribPointer(C.GLuint(c.locPosition), 2, C.GL_FLOAT, C.GL_FALSE, 16, unsafe.Pointer(uintptr(0)))
	C.glEnableVertexAttribArray(C.GLuint(c.locTexcoord))
	C.glVertexAttribPointer(C.GLuint(c.locTexcoord), 2, C.GL_FLOAT, C.GL_FALSE, 16, unsafe.Pointer(uintptr(8)))

	C.glUniformMatrix3fv(c.locKeystone, 1, C.GL_FALSE, (*C.GLfloat)(unsafe.Pointer(&keystoneMat[0])))

	st := c.streams[streamIdx]
	C.glActiveTexture(C.GL_TEXTURE0)
	C.glBindTexture(C.GL_TEXTURE_2D, st.Y)
	C.glUniform1i(c.locTexY, 0)
	C.glActiveTexture(C.GL_TEXTURE1)
	C.glBindTexture(C.GL_TEXTURE_2D, st.U)
	C.glUniform1i(c.locTexU, 1)
	C.glActiveTexture(C.GL_TEXTURE2)
	C.glBindTexture(C.GL_TEXTURE_2D, st.V)
	C.glUniform1i(c.locTexV, 2)

	C.glDrawArrays(C.GL_TRIANGLE_STRIP, 0, 4)
}

// Close releases every GL object the context owns.
func (c *Context) Close() {
	for _, st := range c.streams {
		texes := [3]C.GLuint{st.Y, st.U, st.V}
		C.glDeleteTextures(3, &texes[0])
	}
	C.glDeleteBuffers(1, &c.vbo)
	C.glDeleteProgram(c.program)
}
