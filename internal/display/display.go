// Package display owns the KMS/DRM mode-set, the GBM/EGL window surface,
// and the page-flip present loop (C8): it is the only package that talks
// to /dev/dri directly, and the only one responsible for restoring the
// CRTC's prior state on every teardown path (§4.7 "Display restore").
package display

/*
#cgo pkg-config: libdrm gbm egl

#include <stdlib.h>
#include <string.h>
#include <fcntl.h>
#include <unistd.h>
#include <xf86drm.h>
#include <xf86drmMode.h>
#include <gbm.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>

typedef struct {
    int fd;
    drmModeModeInfo mode;
    uint32_t connectorId;
    uint32_t crtcId;
    drmModeCrtc *savedCrtc;

    struct gbm_device  *gbmDevice;
    struct gbm_surface *gbmSurface;

    EGLDisplay eglDisplay;
    EGLContext eglContext;
    EGLSurface eglSurface;

    struct gbm_bo *currentBo;
    uint32_t currentFbId;
} kms_target;

// open_kms locates the first connected connector with a valid mode on the
// given DRM device path, and captures the CRTC's current state so it can
// be restored later (§4.7).
int open_kms(const char *devicePath, kms_target *t) {
    memset(t, 0, sizeof(*t));
    t->fd = open(devicePath, O_RDWR | O_CLOEXEC);
    if (t->fd < 0) return -1;

    drmModeRes *res = drmModeGetResources(t->fd);
    if (!res) { close(t->fd); return -1; }

    drmModeConnector *conn = NULL;
    for (int i = 0; i < res->count_connectors; i++) {
        drmModeConnector *c = drmModeGetConnector(t->fd, res->connectors[i]);
        if (c && c->connection == DRM_MODE_CONNECTED && c->count_modes > 0) {
            conn = c;
            break;
        }
        if (c) drmModeFreeConnector(c);
    }
    if (!conn) { drmModeFreeResources(res); close(t->fd); return -2; }

    t->connectorId = conn->connector_id;
    t->mode = conn->modes[0];

    drmModeEncoder *enc = NULL;
    if (conn->encoder_id) enc = drmModeGetEncoder(t->fd, conn->encoder_id);
    if (enc && enc->crtc_id) {
        t->crtcId = enc->crtc_id;
    } else {
        for (int i = 0; i < res->count_crtcs; i++) {
            t->crtcId = res->crtcs[i];
            break;
        }
    }
    if (enc) drmModeFreeEncoder(enc);

    t->savedCrtc = drmModeGetCrtc(t->fd, t->crtcId);

    drmModeFreeConnector(conn);
    drmModeFreeResources(res);
    return 0;
}

// init_surfaces creates the GBM device/surface and the EGL window surface
// sized to the captured mode, and makes the context current.
int init_surfaces(kms_target *t) {
    t->gbmDevice = gbm_create_device(t->fd);
    if (!t->gbmDevice) return -1;

    t->gbmSurface = gbm_surface_create(t->gbmDevice, t->mode.hdisplay, t->mode.vdisplay,
                                        GBM_FORMAT_XRGB8888,
                                        GBM_BO_USE_SCANOUT | GBM_BO_USE_RENDERING);
    if (!t->gbmSurface) return -2;

    t->eglDisplay = eglGetDisplay((EGLNativeDisplayType)t->gbmDevice);
    if (t->eglDisplay == EGL_NO_DISPLAY) return -3;

    EGLint major, minor;
    if (!eglInitialize(t->eglDisplay, &major, &minor)) return -4;
    eglBindAPI(EGL_OPENGL_ES_API);

    EGLint attribs[] = {
        EGL_SURFACE_TYPE, EGL_WINDOW_BIT,
        EGL_RENDERABLE_TYPE, EGL_OPENGL_ES3_BIT,
        EGL_RED_SIZE, 8, EGL_GREEN_SIZE, 8, EGL_BLUE_SIZE, 8,
        EGL_NONE,
    };
    EGLConfig config;
    EGLint numConfigs;
    if (!eglChooseConfig(t->eglDisplay, attribs, &config, 1, &numConfigs) || numConfigs < 1) return -5;

    EGLint ctxAttribs[] = { EGL_CONTEXT_CLIENT_VERSION, 3, EGL_NONE };
    t->eglContext = eglCreateContext(t->eglDisplay, config, EGL_NO_CONTEXT, ctxAttribs);
    if (t->eglContext == EGL_NO_CONTEXT) return -6;

    t->eglSurface = eglCreateWindowSurface(t->eglDisplay, config, (EGLNativeWindowType)t->gbmSurface, NULL);
    if (t->eglSurface == EGL_NO_SURFACE) return -7;

    if (!eglMakeCurrent(t->eglDisplay, t->eglSurface, t->eglSurface, t->eglContext)) return -8;
    return 0;
}

// swap_and_flip swaps the EGL surface, locks the new GBM front buffer,
// creates a DRM framebuffer for it if needed, and issues a page flip,
// blocking via drmHandleEvent until the flip completes (§4.7 VSync-paced
// present). On the very first call it uses drmModeSetCrtc instead, since
// there is no prior front buffer to flip from.
int swap_and_flip(kms_target *t, int first) {
    if (!eglSwapBuffers(t->eglDisplay, t->eglSurface)) return -1;

    struct gbm_bo *bo = gbm_surface_lock_front_buffer(t->gbmSurface);
    if (!bo) return -2;

    uint32_t handle = gbm_bo_get_handle(bo).u32;
    uint32_t stride = gbm_bo_get_stride(bo);
    uint32_t fbId = 0;
    if (drmModeAddFB(t->fd, t->mode.hdisplay, t->mode.vdisplay, 24, 32, stride, handle, &fbId) != 0) {
        gbm_surface_release_buffer(t->gbmSurface, bo);
        return -3;
    }

    if (first) {
        if (drmModeSetCrtc(t->fd, t->crtcId, fbId, 0, 0, &t->connectorId, 1, &t->mode) != 0) {
            return -4;
        }
    } else {
        int pending = 1;
        if (drmModePageFlip(t->fd, t->crtcId, fbId, DRM_MODE_PAGE_FLIP_EVENT, &pending) != 0) {
            return -5;
        }
        drmEventContext evctx;
        memset(&evctx, 0, sizeof(evctx));
        evctx.version = DRM_EVENT_CONTEXT_VERSION;
        // page_flip_handler left NULL: we only need drmHandleEvent to block
        // until the kernel has written the completion event, not to run a
        // Go callback from a C signal context.
        drmHandleEvent(t->fd, &evctx);
    }

    if (t->currentBo) {
        gbm_surface_release_buffer(t->gbmSurface, t->currentBo);
        drmModeRmFB(t->fd, t->currentFbId);
    }
    t->currentBo = bo;
    t->currentFbId = fbId;
    return 0;
}

// restore_crtc reapplies the CRTC state captured at open_kms time (§4.7).
void restore_crtc(kms_target *t) {
    if (!t->savedCrtc) return;
    drmModeSetCrtc(t->fd, t->savedCrtc->crtc_id, t->savedCrtc->buffer_id,
                   t->savedCrtc->x, t->savedCrtc->y,
                   &t->connectorId, 1, &t->savedCrtc->mode);
}

void close_kms(kms_target *t) {
    if (t->currentBo) {
        gbm_surface_release_buffer(t->gbmSurface, t->currentBo);
        drmModeRmFB(t->fd, t->currentFbId);
    }
    if (t->eglDisplay != EGL_NO_DISPLAY) {
        eglMakeCurrent(t->eglDisplay, EGL_NO_SURFACE, EGL_NO_SURFACE, EGL_NO_CONTEXT);
        if (t->eglSurface != EGL_NO_SURFACE) eglDestroySurface(t->eglDisplay, t->eglSurface);
        if (t->eglContext != EGL_NO_CONTEXT) eglDestroyContext(t->eglDisplay, t->eglContext);
        eglTerminate(t->eglDisplay);
    }
    if (t->gbmSurface) gbm_surface_destroy(t->gbmSurface);
    if (t->gbmDevice) gbm_device_destroy(t->gbmDevice);
    if (t->savedCrtc) drmModeFreeCrtc(t->savedCrtc);
    if (t->fd >= 0) close(t->fd);
}
*/
import "C"

import (
	"fmt"
	"path/filepath"
	"time"
	"unsafe"
)

// DefaultDevicePath is the primary GPU node on the reference board.
const DefaultDevicePath = "/dev/dri/card0"

// Target owns one KMS/DRM scanout target: the connector, CRTC, and the
// GBM/EGL surfaces the GPU context renders into.
type Target struct {
	c       C.kms_target
	opened  bool
	flipped bool
}

// Open finds the first connected connector on devicePath, captures the
// existing CRTC state, and creates the GBM/EGL window surface. An empty
// devicePath tries each /dev/dri/card* node in turn and uses the first
// one that opens.
func Open(devicePath string) (*Target, error) {
	if devicePath == "" {
		candidates, _ := filepath.Glob("/dev/dri/card*")
		lastErr := fmt.Errorf("display: no DRM device node found under /dev/dri")
		for _, candidate := range candidates {
			t, err := Open(candidate)
			if err == nil {
				return t, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
	cPath := C.CString(devicePath)
	defer C.free(unsafe.Pointer(cPath))

	t := &Target{}
	if ret := C.open_kms(cPath, &t.c); ret != 0 {
		return nil, fmt.Errorf("display: open_kms(%s) failed: %d", devicePath, int(ret))
	}
	if ret := C.init_surfaces(&t.c); ret != 0 {
		C.close_kms(&t.c)
		return nil, fmt.Errorf("display: init_surfaces failed: %d", int(ret))
	}
	t.opened = true
	return t, nil
}

// Width/Height return the active mode's pixel dimensions.
func (t *Target) Width() int  { return int(t.c.mode.hdisplay) }
func (t *Target) Height() int { return int(t.c.mode.vdisplay) }

// RefreshHz returns the active mode's vertical refresh rate, used to
// derive the expected present interval for §8 property 6's pacing check.
func (t *Target) RefreshHz() int { return int(t.c.mode.vrefresh) }

// Present swaps the EGL surface and blocks until the resulting page flip
// completes, i.e. until the next VSync (§4.5, §4.7).
func (t *Target) Present() error {
	first := 0
	if !t.flipped {
		first = 1
	}
	if ret := C.swap_and_flip(&t.c, C.int(first)); ret != 0 {
		return fmt.Errorf("display: swap_and_flip failed: %d", int(ret))
	}
	t.flipped = true
	return nil
}

// ExpectedPresentInterval derives the nominal VSync period from the
// active mode's refresh rate.
func (t *Target) ExpectedPresentInterval() time.Duration {
	hz := t.RefreshHz()
	if hz <= 0 {
		hz = 60
	}
	return time.Second / time.Duration(hz)
}

// RestoreCRTC reapplies the CRTC state captured at Open time. Must run on
// every teardown path, including the async-signal-safe crash handler
// (§4.7, §5).
func (t *Target) RestoreCRTC() {
	if !t.opened {
		return
	}
	C.restore_crtc(&t.c)
}

// Close restores the CRTC and releases every DRM/GBM/EGL resource.
func (t *Target) Close() {
	if !t.opened {
		return
	}
	t.RestoreCRTC()
	C.close_kms(&t.c)
	t.opened = false
}
