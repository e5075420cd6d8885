package gpu

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/pipeline"
	"github.com/gekko3d/framecore/rt/shaders"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/glfw/v3.3/glfw"
)

const (
	defaultShadowMapSize = 2048
	minBufferSize        = 64
)

var errNoFrame = errors.New("gpu: no frame in progress")

type Options struct {
	Logger        framecore.Logger
	Window        *glfw.Window
	ShadowMapSize uint32
}

// Device is the WebGPU side of the renderer. Every method must run on the
// graphics thread; callers marshal through gfx.Context.
type Device struct {
	log        framecore.Logger
	window     *glfw.Window
	shadowSize uint32

	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	// firstInstance reports whether indirect draws may use a non-zero
	// BaseInstance.
	firstInstance bool
	// multiDraw reports whether a pass can issue all its indirect commands
	// with one MultiDrawIndexedIndirect.
	multiDraw bool

	frameLayout  *wgpu.BindGroupLayout
	shadowLayout *wgpu.BindGroupLayout

	FillPipeline   *wgpu.RenderPipeline
	NoCullPipeline *wgpu.RenderPipeline
	LinePipeline   *wgpu.RenderPipeline
	ShadowPipeline *wgpu.RenderPipeline

	DepthTexture  *wgpu.Texture
	DepthView     *wgpu.TextureView
	ShadowTexture *wgpu.Texture
	ShadowView    *wgpu.TextureView
	ShadowSampler *wgpu.Sampler

	FrameBuf    *wgpu.Buffer
	InstanceBuf *wgpu.Buffer
	VertexBuf   *wgpu.Buffer
	IndexBuf    *wgpu.Buffer
	IndirectBuf *wgpu.Buffer
	OffsetBuf   *wgpu.Buffer

	// Edge list of IndexBuf and the matching commands, for line pipelines.
	LineIndexBuf    *wgpu.Buffer
	LineIndirectBuf *wgpu.Buffer

	FrameBG  *wgpu.BindGroup
	ShadowBG *wgpu.BindGroup

	indirectCount int

	// Per frame.
	surfaceTex *wgpu.Texture
	view       *wgpu.TextureView
	encoder    *wgpu.CommandEncoder
	cleared    bool

	uniformBytes  []byte
	instanceBytes []byte
	lineBytes     []byte
	offsetBytes   []byte
}

func New(opts Options) *Device {
	size := opts.ShadowMapSize
	if size == 0 {
		size = defaultShadowMapSize
	}
	return &Device{
		log:        framecore.Sub(opts.Logger, "gpu"),
		window:     opts.Window,
		shadowSize: size,
	}
}

// Init brings up the adapter, device, surface and pipelines. It is meant to
// be the graphics context's Init hook.
func (d *Device) Init() error {
	d.Instance = wgpu.CreateInstance(nil)
	d.Surface = d.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(d.window))

	adapter, err := d.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: d.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	d.Adapter = adapter

	features := deviceFeatures(adapter.HasFeature)
	d.firstInstance = slices.Contains(features, wgpu.FeatureNameIndirectFirstInstance)
	d.multiDraw = slices.Contains(features, wgpu.NativeFeatureMultiDrawIndirect)
	if !d.firstInstance {
		d.log.Warnf("indirect-first-instance unavailable; draws with a non-zero base instance may be dropped")
	}
	if !d.multiDraw {
		d.log.Infof("multi-draw-indirect unavailable; issuing one indirect draw per command")
	}
	d.Device, err = adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "framecore device",
		RequiredFeatures: features,
	})
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	d.Queue = d.Device.GetQueue()

	width, height := d.window.GetFramebufferSize()
	caps := d.Surface.GetCapabilities(adapter)
	if len(caps.Formats) == 0 || len(caps.AlphaModes) == 0 {
		return errors.New("surface reports no formats")
	}
	d.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(max(width, 1)),
		Height:      uint32(max(height, 1)),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	d.Surface.Configure(adapter, d.Device, d.Config)

	if err := d.createLayouts(); err != nil {
		return err
	}
	if err := d.createPipelines(); err != nil {
		return err
	}
	if err := d.createDepth(); err != nil {
		return err
	}
	if err := d.createShadowMap(); err != nil {
		return err
	}

	for _, b := range []struct {
		name  string
		buf   **wgpu.Buffer
		data  []byte
		usage wgpu.BufferUsage
	}{
		{"Frame", &d.FrameBuf, make([]byte, frameUniformSize), wgpu.BufferUsageUniform},
		{"Instances", &d.InstanceBuf, nil, wgpu.BufferUsageVertex},
		{"Vertices", &d.VertexBuf, nil, wgpu.BufferUsageVertex},
		{"Indices", &d.IndexBuf, nil, wgpu.BufferUsageIndex},
		{"LineIndices", &d.LineIndexBuf, nil, wgpu.BufferUsageIndex},
		{"Indirect", &d.IndirectBuf, nil, wgpu.BufferUsageIndirect | wgpu.BufferUsageStorage},
		{"LineIndirect", &d.LineIndirectBuf, nil, wgpu.BufferUsageIndirect},
		{"EntityOffsets", &d.OffsetBuf, offsetTable(nil, 0, nil), wgpu.BufferUsageStorage},
	} {
		if _, err := d.ensureBuffer(b.name, b.buf, b.data, b.usage); err != nil {
			return err
		}
	}
	if err := d.createFrameBindGroup(); err != nil {
		return err
	}

	d.log.Infof("device ready: %dx%d %v, shadow map %d, multi-draw %v", d.Config.Width, d.Config.Height, d.Config.Format, d.shadowSize, d.multiDraw)
	return nil
}

func (d *Device) createLayouts() error {
	var err error
	d.frameLayout, err = d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "FrameBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: frameUniformSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageVertex,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("frame layout: %w", err)
	}

	d.shadowLayout, err = d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ShadowBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler: wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeComparison,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("shadow layout: %w", err)
	}
	return nil
}

func vertexLayouts() []wgpu.VertexBufferLayout {
	return []wgpu.VertexBufferLayout{
		{
			ArrayStride: vertexStride,
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
				{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
			},
		},
		{
			ArrayStride: instanceStride,
			StepMode:    wgpu.VertexStepModeInstance,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 2},
				{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 3},
				{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 4},
				{Format: wgpu.VertexFormatFloat32x4, Offset: 48, ShaderLocation: 5},
			},
		},
	}
}

func (d *Device) createPipelines() error {
	module, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Mesh",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.MeshWGSL},
	})
	if err != nil {
		return fmt.Errorf("mesh shader: %w", err)
	}
	defer module.Release()

	mainLayout, err := d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Main",
		BindGroupLayouts: []*wgpu.BindGroupLayout{d.frameLayout, d.shadowLayout},
	})
	if err != nil {
		return err
	}
	shadowLayout, err := d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Shadow",
		BindGroupLayouts: []*wgpu.BindGroupLayout{d.frameLayout},
	})
	if err != nil {
		return err
	}

	color := func(fragment string, topology wgpu.PrimitiveTopology, cull wgpu.CullMode, depthWrite bool, compare wgpu.CompareFunction) (*wgpu.RenderPipeline, error) {
		return d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
			Label:  "Mesh " + fragment,
			Layout: mainLayout,
			Vertex: wgpu.VertexState{
				Module:     module,
				EntryPoint: "vs_main",
				Buffers:    vertexLayouts(),
			},
			Fragment: &wgpu.FragmentState{
				Module:     module,
				EntryPoint: fragment,
				Targets: []wgpu.ColorTargetState{{
					Format:    d.Config.Format,
					WriteMask: wgpu.ColorWriteMaskAll,
				}},
			},
			Primitive: wgpu.PrimitiveState{
				Topology:  topology,
				FrontFace: wgpu.FrontFaceCCW,
				CullMode:  cull,
			},
			DepthStencil: &wgpu.DepthStencilState{
				Format:            wgpu.TextureFormatDepth24Plus,
				DepthWriteEnabled: depthWrite,
				DepthCompare:      compare,
				StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
				StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			},
			Multisample: wgpu.MultisampleState{
				Count: 1,
				Mask:  0xFFFFFFFF,
			},
		})
	}

	if d.FillPipeline, err = color("fs_main", wgpu.PrimitiveTopologyTriangleList, wgpu.CullModeBack, true, wgpu.CompareFunctionLess); err != nil {
		return fmt.Errorf("fill pipeline: %w", err)
	}
	if d.NoCullPipeline, err = color("fs_main", wgpu.PrimitiveTopologyTriangleList, wgpu.CullModeNone, true, wgpu.CompareFunctionLess); err != nil {
		return fmt.Errorf("no-cull pipeline: %w", err)
	}
	if d.LinePipeline, err = color("fs_lines", wgpu.PrimitiveTopologyLineList, wgpu.CullModeNone, false, wgpu.CompareFunctionLessEqual); err != nil {
		return fmt.Errorf("line pipeline: %w", err)
	}

	d.ShadowPipeline, err = d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Shadow",
		Layout: shadowLayout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_shadow",
			Buffers:    vertexLayouts(),
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:              wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled:   true,
			DepthCompare:        wgpu.CompareFunctionLess,
			DepthBias:           2,
			DepthBiasSlopeScale: 2.0,
			StencilFront:        wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:         wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("shadow pipeline: %w", err)
	}
	return nil
}

func (d *Device) createDepth() error {
	if d.DepthView != nil {
		d.DepthView.Release()
		d.DepthTexture.Release()
	}
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth",
		Size: wgpu.Extent3D{
			Width:              d.Config.Width,
			Height:             d.Config.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("depth texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("depth view: %w", err)
	}
	d.DepthTexture, d.DepthView = tex, view
	return nil
}

func (d *Device) createShadowMap() error {
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Shadow Depth",
		Size: wgpu.Extent3D{
			Width:              d.shadowSize,
			Height:             d.shadowSize,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return fmt.Errorf("shadow texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("shadow view: %w", err)
	}
	d.ShadowTexture, d.ShadowView = tex, view

	d.ShadowSampler, err = d.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Shadow Comparison",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		Compare:       wgpu.CompareFunctionLess,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("shadow sampler: %w", err)
	}

	d.ShadowBG, err = d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: d.shadowLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: d.ShadowView},
			{Binding: 1, Sampler: d.ShadowSampler},
		},
	})
	if err != nil {
		return fmt.Errorf("shadow bind group: %w", err)
	}
	return nil
}

func (d *Device) createFrameBindGroup() error {
	if d.FrameBG != nil {
		d.FrameBG.Release()
	}
	var err error
	d.FrameBG, err = d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: d.frameLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.FrameBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: d.OffsetBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("frame bind group: %w", err)
	}
	return nil
}

// deviceFeatures picks the optional features to request from what the
// adapter reports.
func deviceFeatures(has func(wgpu.FeatureName) bool) []wgpu.FeatureName {
	var out []wgpu.FeatureName
	for _, f := range []wgpu.FeatureName{wgpu.FeatureNameIndirectFirstInstance, wgpu.NativeFeatureMultiDrawIndirect} {
		if has(f) {
			out = append(out, f)
		}
	}
	return out
}

type bufferWriter interface {
	WriteBuffer(buffer *wgpu.Buffer, bufferOffset uint64, data []byte) error
}

func writeBuffer(q bufferWriter, name string, buf *wgpu.Buffer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := q.WriteBuffer(buf, 0, data); err != nil {
		return fmt.Errorf("gpu: write %s buffer (%d bytes): %w", name, len(data), err)
	}
	return nil
}

// ensureBuffer grows buf to fit data and uploads it. It reports whether the
// buffer was recreated, in which case bind groups referencing it are stale.
func (d *Device) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage) (bool, error) {
	neededSize := uint64(max(len(data), minBufferSize))
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	recreated := false
	current := *buf
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
			// Grow geometrically so steady growth doesn't reallocate every frame.
			neededSize = max(neededSize, current.GetSize()*2)
		}
		newBuf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: name,
			Size:  neededSize,
			Usage: usage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(fmt.Sprintf("gpu: create %s buffer (%d bytes): %v", name, neededSize, err))
		}
		*buf = newBuf
		recreated = true
		d.log.Debugf("buffer %s -> %d bytes", name, neededSize)
	}
	return recreated, writeBuffer(d.Queue, name, *buf, data)
}

// UploadGeometry replaces the shared vertex and index buffers.
func (d *Device) UploadGeometry(vertices []core.Vertex, indices []uint32) error {
	if d.Device == nil {
		return errors.New("gpu: device not initialized")
	}
	if _, err := d.ensureBuffer("Vertices", &d.VertexBuf, vertexBytes(vertices), wgpu.BufferUsageVertex); err != nil {
		return err
	}
	if _, err := d.ensureBuffer("Indices", &d.IndexBuf, indexBytes(indices), wgpu.BufferUsageIndex); err != nil {
		return err
	}
	if _, err := d.ensureBuffer("LineIndices", &d.LineIndexBuf, indexBytes(core.TriangleEdges(indices)), wgpu.BufferUsageIndex); err != nil {
		return err
	}
	d.log.Infof("geometry: %d vertices, %d indices", len(vertices), len(indices))
	return nil
}

// Upload implements pipeline.Backend.
func (d *Device) Upload(buf *pipeline.CommandBuffer) error {
	if _, err := d.ensureBuffer("Indirect", &d.IndirectBuf, buf.CommandBytes(), wgpu.BufferUsageIndirect|wgpu.BufferUsageStorage); err != nil {
		return err
	}
	d.lineBytes = lineCommands(d.lineBytes, buf.Commands())
	if _, err := d.ensureBuffer("LineIndirect", &d.LineIndirectBuf, d.lineBytes, wgpu.BufferUsageIndirect); err != nil {
		return err
	}
	d.offsetBytes = offsetTable(d.offsetBytes, buf.Len(), buf.OffsetBytes())
	recreated, err := d.ensureBuffer("EntityOffsets", &d.OffsetBuf, d.offsetBytes, wgpu.BufferUsageStorage)
	if err != nil {
		return err
	}
	if recreated {
		if err := d.createFrameBindGroup(); err != nil {
			return err
		}
	}
	d.indirectCount = buf.Len()
	return nil
}

// BeginFrame uploads per-frame data for fs and acquires the surface texture.
func (d *Device) BeginFrame(fs *state.FrameState) error {
	if d.encoder != nil {
		return errors.New("gpu: previous frame not presented")
	}

	d.uniformBytes = frameUniforms(d.uniformBytes, fs)
	if err := writeBuffer(d.Queue, "Frame", d.FrameBuf, d.uniformBytes); err != nil {
		return err
	}
	d.instanceBytes = instanceTable(d.instanceBytes, fs.Entities)
	if _, err := d.ensureBuffer("Instances", &d.InstanceBuf, d.instanceBytes, wgpu.BufferUsageVertex); err != nil {
		return err
	}

	tex, err := d.Surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("acquire surface texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("surface view: %w", err)
	}
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		tex.Release()
		return fmt.Errorf("command encoder: %w", err)
	}
	d.surfaceTex, d.view, d.encoder = tex, view, encoder
	d.cleared = false
	return nil
}

func (d *Device) mainPass() *wgpu.RenderPassEncoder {
	load := wgpu.LoadOpLoad
	if !d.cleared {
		load = wgpu.LoadOpClear
		d.cleared = true
	}
	return d.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       d.view,
			LoadOp:     load,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.05, G: 0.05, B: 0.08, A: 1},
		}},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            d.DepthView,
			DepthLoadOp:     load,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
}

// indirectBatch is one indirect draw over count packed commands starting at
// byte offset.
type indirectBatch struct {
	offset uint64
	count  uint32
}

// indirectBatches splits count commands into the draws a pass issues: one
// multi-draw when the device has it, else one draw per 20-byte command.
func indirectBatches(count int, multi bool) []indirectBatch {
	if count <= 0 {
		return nil
	}
	if multi {
		return []indirectBatch{{offset: 0, count: uint32(count)}}
	}
	out := make([]indirectBatch, count)
	for i := range out {
		out[i] = indirectBatch{offset: uint64(i * core.IndirectDrawCommandSize), count: 1}
	}
	return out
}

// DrawIndirect implements pipeline.Backend. A pass issues all its commands
// with one MultiDrawIndexedIndirect where supported. Line draws read the
// edge list and its commands instead of the triangle ones.
func (d *Device) DrawIndirect(call pipeline.DrawCall) error {
	if d.encoder == nil {
		return errNoFrame
	}
	if call.Count > d.indirectCount {
		return fmt.Errorf("gpu: draw of %d commands, %d uploaded", call.Count, d.indirectCount)
	}

	var pass *wgpu.RenderPassEncoder
	switch call.Pass {
	case pipeline.PassShadow:
		pass = d.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
				View:            d.ShadowView,
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore,
				DepthClearValue: 1.0,
			},
		})
		pass.SetPipeline(d.ShadowPipeline)
		pass.SetBindGroup(0, d.FrameBG, nil)
	default:
		pass = d.mainPass()
		switch {
		case call.Lines:
			pass.SetPipeline(d.LinePipeline)
		case call.CullBack:
			pass.SetPipeline(d.FillPipeline)
		default:
			pass.SetPipeline(d.NoCullPipeline)
		}
		pass.SetBindGroup(0, d.FrameBG, nil)
		pass.SetBindGroup(1, d.ShadowBG, nil)
	}

	pass.SetVertexBuffer(0, d.VertexBuf, 0, wgpu.WholeSize)
	pass.SetVertexBuffer(1, d.InstanceBuf, 0, wgpu.WholeSize)
	indices, indirect := d.IndexBuf, d.IndirectBuf
	if call.Lines {
		indices, indirect = d.LineIndexBuf, d.LineIndirectBuf
	}
	pass.SetIndexBuffer(indices, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	for _, b := range indirectBatches(call.Count, d.multiDraw) {
		if d.multiDraw {
			pass.MultiDrawIndexedIndirect(pass, *indirect, b.offset, b.count)
		} else {
			pass.DrawIndexedIndirect(indirect, b.offset)
		}
	}
	if err := pass.End(); err != nil {
		return fmt.Errorf("%s pass: %w", call.Pass, err)
	}
	return nil
}

// Present submits the frame and shows it.
func (d *Device) Present() error {
	if d.encoder == nil {
		return errNoFrame
	}
	defer d.endFrame()

	if !d.cleared {
		// Nothing was drawn; still clear the target.
		if err := d.mainPass().End(); err != nil {
			return fmt.Errorf("clear pass: %w", err)
		}
	}
	cmd, err := d.encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish encoder: %w", err)
	}
	d.Queue.Submit(cmd)
	cmd.Release()
	d.Surface.Present()
	return nil
}

func (d *Device) endFrame() {
	d.encoder.Release()
	d.view.Release()
	d.surfaceTex.Release()
	d.encoder, d.view, d.surfaceTex = nil, nil, nil
}

// Resize reconfigures the surface and depth buffer for a new framebuffer size.
func (d *Device) Resize(width, height int) {
	if width <= 0 || height <= 0 || d.Config == nil {
		return
	}
	d.Config.Width = uint32(width)
	d.Config.Height = uint32(height)
	d.Surface.Configure(d.Adapter, d.Device, d.Config)
	if err := d.createDepth(); err != nil {
		d.log.Errorf("resize %dx%d: %v", width, height, err)
	}
}

func (d *Device) FirstInstanceSupported() bool { return d.firstInstance }

func (d *Device) MultiDrawSupported() bool { return d.multiDraw }

func (d *Device) Release() {
	for _, b := range []*wgpu.Buffer{d.FrameBuf, d.InstanceBuf, d.VertexBuf, d.IndexBuf, d.LineIndexBuf, d.IndirectBuf, d.LineIndirectBuf, d.OffsetBuf} {
		if b != nil {
			b.Release()
		}
	}
	if d.FrameBG != nil {
		d.FrameBG.Release()
	}
	if d.ShadowBG != nil {
		d.ShadowBG.Release()
	}
	if d.DepthView != nil {
		d.DepthView.Release()
		d.DepthTexture.Release()
	}
	if d.ShadowView != nil {
		d.ShadowView.Release()
		d.ShadowTexture.Release()
	}
	if d.ShadowSampler != nil {
		d.ShadowSampler.Release()
	}
	for _, p := range []*wgpu.RenderPipeline{d.FillPipeline, d.NoCullPipeline, d.LinePipeline, d.ShadowPipeline} {
		if p != nil {
			p.Release()
		}
	}
	if d.Device != nil {
		d.Device.Release()
	}
	if d.Surface != nil {
		d.Surface.Release()
	}
	if d.Instance != nil {
		d.Instance.Release()
	}
}
